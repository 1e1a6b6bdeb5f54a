// Package swagger registers the OpenAPI document built from the handler
// annotations. Run go generate ./cmd/api after changing them.
package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
	"schemes": {{ marshal .Schemes }},
	"swagger": "2.0",
	"info": {
		"description": "{{escape .Description}}",
		"title": "{{.Title}}",
		"contact": {},
		"version": "{{.Version}}"
	},
	"host": "{{.Host}}",
	"basePath": "{{.BasePath}}",
	"paths": {
		"/api/audit-logs": {
			"get": {
				"description": "Every proposal, negotiation and ledger transition with its actor",
				"produces": [
					"application/json"
				],
				"tags": [
					"audit"
				],
				"summary": "Get audit logs",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Filter by action (e.g. LOCK_MILESTONES)",
						"name": "action",
						"in": "query"
					},
					{
						"type": "string",
						"description": "Filter by entity id",
						"name": "entity_id",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "Page number (default 1)",
						"name": "page",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "Number of items per page (default 20)",
						"name": "limit",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "object"
										}
									}
								}
							]
						}
					}
				}
			}
		},
		"/api/payments/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Get payment",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Payment ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PaymentResponse"
										}
									}
								}
							]
						}
					},
					"403": {
						"description": "Forbidden",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/payments/{id}/confirm-transfer": {
			"post": {
				"description": "Exactly one of transfer_ref and proof_document_ref must be given",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Confirm transfer",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Payment ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "Transfer reference",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.ConfirmTransferRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PaymentResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"412": {
						"description": "Precondition Failed",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/payments/{id}/fund": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Fund milestone",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Milestone ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "Amount",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.FundMilestoneRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PaymentResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/payments/{id}/proof": {
			"post": {
				"consumes": [
					"multipart/form-data"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Upload transfer proof",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Payment ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"type": "file",
						"description": "Receipt (PDF or image)",
						"name": "file",
						"in": "formData",
						"required": true
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.TransferProofResponse"
										}
									}
								}
							]
						}
					},
					"412": {
						"description": "Precondition Failed",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/payments/{id}/proofs": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "List transfer proofs",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Payment ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "array",
											"items": {
												"$ref": "#/definitions/service.TransferProofResponse"
											}
										}
									}
								}
							]
						}
					}
				}
			}
		},
		"/api/payments/{id}/release": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Release milestone",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Milestone ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PaymentResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/projects/{id}/milestones": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"milestones"
				],
				"summary": "Get milestones",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Project ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.MilestoneSetResponse"
										}
									}
								}
							]
						}
					},
					"403": {
						"description": "Forbidden",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			},
			"put": {
				"description": "Full-set replace: entries with a known id are updated, entries without one are created, missing ones are deleted",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"milestones"
				],
				"summary": "Edit milestones",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Project ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "Milestone set",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.EditMilestonesRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.MilestoneSetResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/projects/{id}/milestones/approve": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"milestones"
				],
				"summary": "Approve milestones",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Project ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "COMPANY or PROVIDER",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.ApproveMilestonesRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.MilestoneSetResponse"
										}
									}
								}
							]
						}
					},
					"403": {
						"description": "Forbidden",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/projects/{id}/milestones/{milestoneId}/deliverable/approve": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"milestones"
				],
				"summary": "Approve milestone deliverable",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Project ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "Milestone ID",
						"name": "milestoneId",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.MilestoneResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/projects/{id}/payments": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "List project payments",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Project ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "array",
											"items": {
												"$ref": "#/definitions/service.PaymentResponse"
											}
										}
									}
								}
							]
						}
					},
					"403": {
						"description": "Forbidden",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/proposals": {
			"post": {
				"description": "Every failing field is reported in one response",
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Submit proposal",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"description": "Proposal",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.SubmitProposalRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.ProposalResponse"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/proposals/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Get proposal",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Proposal ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.ProposalResponse"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/proposals/{id}/accept": {
			"post": {
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Accept proposal",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Proposal ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.AcceptProposalResponse"
										}
									}
								}
							]
						}
					},
					"403": {
						"description": "Forbidden",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/proposals/{id}/reject": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Reject proposal",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Proposal ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "Reason",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.RejectProposalRequest"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.ProposalResponse"
										}
									}
								}
							]
						}
					},
					"409": {
						"description": "Conflict",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/providers/{id}/payout-methods": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"payouts"
				],
				"summary": "Register payout method",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Provider ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"description": "Payout method",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.RegisterPayoutMethodRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PayoutMethodResponse"
										}
									}
								}
							]
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			},
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"payouts"
				],
				"summary": "List payout methods",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Provider ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "array",
											"items": {
												"$ref": "#/definitions/service.PayoutMethodResponse"
											}
										}
									}
								}
							]
						}
					}
				}
			}
		},
		"/api/service-requests": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Create service request",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"description": "Service request",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.CreateServiceRequestRequest"
						}
					}
				],
				"responses": {
					"201": {
						"description": "Created",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.ServiceRequestResponse"
										}
									}
								}
							]
						}
					},
					"422": {
						"description": "Unprocessable Entity",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/service-requests/{id}": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "Get service request",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Service request ID",
						"name": "id",
						"in": "path",
						"required": true
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.ServiceRequestResponse"
										}
									}
								}
							]
						}
					},
					"404": {
						"description": "Not Found",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		},
		"/api/service-requests/{id}/proposals": {
			"get": {
				"produces": [
					"application/json"
				],
				"tags": [
					"proposals"
				],
				"summary": "List proposals",
				"security": [
					{
						"BearerAuth": []
					}
				],
				"parameters": [
					{
						"type": "string",
						"description": "Service request ID",
						"name": "id",
						"in": "path",
						"required": true
					},
					{
						"type": "string",
						"description": "PENDING, ACCEPTED or REJECTED",
						"name": "status",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "Page number (default 1)",
						"name": "page",
						"in": "query"
					},
					{
						"type": "integer",
						"description": "Number of items per page (default 20)",
						"name": "limit",
						"in": "query"
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"type": "object"
										}
									}
								}
							]
						}
					}
				}
			}
		},
		"/api/webhooks/settlement": {
			"post": {
				"consumes": [
					"application/json"
				],
				"produces": [
					"application/json"
				],
				"tags": [
					"payments"
				],
				"summary": "Settlement notification",
				"parameters": [
					{
						"type": "string",
						"description": "Shared secret",
						"name": "X-Settlement-Secret",
						"in": "header",
						"required": true
					},
					{
						"description": "Settled payment",
						"name": "payload",
						"in": "body",
						"required": true,
						"schema": {
							"$ref": "#/definitions/service.SettlementNotification"
						}
					}
				],
				"responses": {
					"200": {
						"description": "OK",
						"schema": {
							"allOf": [
								{
									"$ref": "#/definitions/response.Response"
								},
								{
									"type": "object",
									"properties": {
										"data": {
											"$ref": "#/definitions/service.PaymentResponse"
										}
									}
								}
							]
						}
					},
					"401": {
						"description": "Unauthorized",
						"schema": {
							"$ref": "#/definitions/response.Response"
						}
					}
				}
			}
		}
	},
	"definitions": {
		"response.Response": {
			"type": "object",
			"properties": {
				"status": {
					"type": "string"
				},
				"status_code": {
					"type": "integer"
				},
				"data": {
					"type": "object"
				},
				"error": {
					"type": "string"
				},
				"fields": {
					"type": "object"
				}
			}
		},
		"service.AcceptProposalResponse": {
			"type": "object",
			"properties": {
				"proposal": {
					"$ref": "#/definitions/service.ProposalResponse"
				},
				"project_id": {
					"type": "string"
				},
				"milestones": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/service.MilestoneResponse"
					}
				},
				"approval": {
					"$ref": "#/definitions/service.ApprovalStateResponse"
				}
			}
		},
		"service.ApprovalStateResponse": {
			"type": "object",
			"properties": {
				"state": {
					"type": "string"
				},
				"company_approved": {
					"type": "boolean"
				},
				"provider_approved": {
					"type": "boolean"
				},
				"locked": {
					"type": "boolean"
				},
				"milestones_approved_at": {
					"type": "string"
				}
			}
		},
		"service.ApproveMilestonesRequest": {
			"type": "object",
			"properties": {
				"actor": {
					"type": "string"
				}
			}
		},
		"service.ConfirmTransferRequest": {
			"type": "object",
			"properties": {
				"transfer_ref": {
					"type": "string"
				},
				"proof_document_ref": {
					"type": "string"
				}
			}
		},
		"service.CreateServiceRequestRequest": {
			"type": "object",
			"properties": {
				"title": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"budget_min": {
					"type": "string"
				},
				"budget_max": {
					"type": "string"
				},
				"timeline_days": {
					"type": "integer"
				}
			}
		},
		"service.EditMilestonesRequest": {
			"type": "object",
			"properties": {
				"milestones": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/service.MilestoneInput"
					}
				}
			}
		},
		"service.FundMilestoneRequest": {
			"type": "object",
			"properties": {
				"amount": {
					"type": "string"
				}
			}
		},
		"service.MilestoneInput": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"sequence": {
					"type": "integer"
				},
				"title": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"amount": {
					"type": "string"
				},
				"due_date": {
					"type": "string"
				}
			}
		},
		"service.MilestoneResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"sequence": {
					"type": "integer"
				},
				"title": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"amount": {
					"type": "string"
				},
				"due_date": {
					"type": "string"
				},
				"status": {
					"type": "string"
				},
				"deliverable_approved_at": {
					"type": "string"
				}
			}
		},
		"service.MilestoneSetResponse": {
			"type": "object",
			"properties": {
				"project_id": {
					"type": "string"
				},
				"project_status": {
					"type": "string"
				},
				"approved_amount": {
					"type": "string"
				},
				"milestones": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/service.MilestoneResponse"
					}
				},
				"approval": {
					"$ref": "#/definitions/service.ApprovalStateResponse"
				}
			}
		},
		"service.PaymentResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"milestone_id": {
					"type": "string"
				},
				"project_id": {
					"type": "string"
				},
				"provider_id": {
					"type": "string"
				},
				"amount": {
					"type": "string"
				},
				"platform_fee_rate": {
					"type": "string"
				},
				"platform_fee_amount": {
					"type": "string"
				},
				"provider_amount": {
					"type": "string"
				},
				"method": {
					"type": "string"
				},
				"status": {
					"type": "string"
				},
				"bank_transfer_ref": {
					"type": "string"
				},
				"bank_transfer_status": {
					"type": "string"
				},
				"escrowed_at": {
					"type": "string"
				},
				"released_at": {
					"type": "string"
				},
				"transferred_at": {
					"type": "string"
				},
				"transferred_by": {
					"type": "string"
				},
				"milestone_title": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		},
		"service.PayoutMethodResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"provider_id": {
					"type": "string"
				},
				"type": {
					"type": "string"
				},
				"label": {
					"type": "string"
				},
				"account_ref": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		},
		"service.ProposalResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"service_request_id": {
					"type": "string"
				},
				"provider_id": {
					"type": "string"
				},
				"bid_amount": {
					"type": "string"
				},
				"timeline_days": {
					"type": "integer"
				},
				"cover_letter": {
					"type": "string"
				},
				"status": {
					"type": "string"
				},
				"rejection_reason": {
					"type": "string"
				},
				"milestones": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/service.MilestoneResponse"
					}
				},
				"decided_at": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		},
		"service.RegisterPayoutMethodRequest": {
			"type": "object",
			"properties": {
				"type": {
					"type": "string"
				},
				"label": {
					"type": "string"
				},
				"account_ref": {
					"type": "string"
				}
			}
		},
		"service.RejectProposalRequest": {
			"type": "object",
			"properties": {
				"reason": {
					"type": "string"
				}
			}
		},
		"service.ServiceRequestResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"customer_id": {
					"type": "string"
				},
				"title": {
					"type": "string"
				},
				"description": {
					"type": "string"
				},
				"budget_min": {
					"type": "string"
				},
				"budget_max": {
					"type": "string"
				},
				"timeline_days": {
					"type": "integer"
				},
				"status": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		},
		"service.SettlementNotification": {
			"type": "object",
			"required": [
				"payment_id"
			],
			"properties": {
				"payment_id": {
					"type": "string"
				}
			}
		},
		"service.SubmitProposalRequest": {
			"type": "object",
			"required": [
				"service_request_id"
			],
			"properties": {
				"service_request_id": {
					"type": "string"
				},
				"bid_amount": {
					"type": "string"
				},
				"timeline_days": {
					"type": "integer"
				},
				"cover_letter": {
					"type": "string"
				},
				"milestones": {
					"type": "array",
					"items": {
						"$ref": "#/definitions/service.MilestoneInput"
					}
				}
			}
		},
		"service.TransferProofResponse": {
			"type": "object",
			"properties": {
				"id": {
					"type": "string"
				},
				"payment_id": {
					"type": "string"
				},
				"document_url": {
					"type": "string"
				},
				"file_name": {
					"type": "string"
				},
				"uploaded_by": {
					"type": "string"
				},
				"created_at": {
					"type": "string"
				}
			}
		}
	},
	"securityDefinitions": {
		"BearerAuth": {
			"type": "apiKey",
			"name": "Authorization",
			"in": "header"
		}
	}
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Marketplace Escrow API",
	Description:      "Proposal acceptance, dual-approval milestone negotiation and milestone escrow payments.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
