// Package config defines the gateway configuration document and loads it
// from YAML.
//
// The document follows a Kubernetes-like envelope:
//
//	apiVersion: gateway.aggregw.io/v1
//	kind: Gateway
//	metadata:
//	  name: api-gateway
//	spec:
//	  server:
//	    port: ${GATEWAY_PORT:-3000}
//	  registry:
//	    type: redis
//	    redis:
//	      addr: localhost:6379
//
// ${VAR} and ${VAR:-default} are substituted from the environment before
// parsing. LoadConfig applies defaults; ValidateConfig reports every
// problem at once as ValidationErrors.
package config
