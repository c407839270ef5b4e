// Package api documents the hrmflow HTTP API. Handlers live in api/handlers.
//
// # Endpoints
//
//	POST /api/v1/query            执行完整流水线
//	POST /api/v1/query/batch      批量执行
//	POST /api/v1/analyze          仅评估复杂度与选择模式
//	GET  /api/v1/status           引擎状态与统计
//	GET  /api/v1/history          最近的执行记录
//	GET  /api/v1/knowledge        按 ?query= 检索知识
//	GET  /api/v1/knowledge/{key}  读取单条知识
//	GET  /api/v1/events           WebSocket 事件流
//	GET  /health /healthz /ready /version
//
// # Authentication
//
// When API keys are configured, /api/v1 requests must carry X-API-Key.
// When a JWT secret is configured, a Bearer token is accepted instead.
//
// # Response envelope
//
//	{"success": true, "data": {...}, "timestamp": "..."}
//	{"success": false, "error": {"code": "INVALID_QUERY", "message": "..."}, "timestamp": "..."}
package api
