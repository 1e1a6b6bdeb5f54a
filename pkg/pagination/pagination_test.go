package pagination

import (
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParse(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		query       string
		page, limit int
	}{
		{"", DefaultPage, DefaultLimit},
		{"?page=3&limit=10", 3, 10},
		{"?page=0&limit=0", DefaultPage, DefaultLimit},
		{"?page=abc&limit=500", DefaultPage, MaxLimit},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest("GET", "/items"+tc.query, nil)

		p := Parse(c)
		if p.Page != tc.page || p.Limit != tc.limit {
			t.Errorf("%q: got page=%d limit=%d, want %d/%d", tc.query, p.Page, p.Limit, tc.page, tc.limit)
		}
		if p.Offset != (p.Page-1)*p.Limit {
			t.Errorf("%q: offset %d", tc.query, p.Offset)
		}
	}
}
