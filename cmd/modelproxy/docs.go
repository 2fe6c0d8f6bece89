package main

// General API documentation for swaggo. Run `make swagger-gen` to generate docs.
//
// @title           modelproxy API
// @version         1.0
// @description     Multi-tenant model deployment proxy with per-user OpenAI-compatible endpoints.
//
// @contact.name   modelproxy maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
//
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
// @description                 "Bearer sk-..." as returned by deployment-status.
