package service_registry

// Service is a long-running component with an explicit lifecycle.
type Service interface {
	Start() error
	Stop() error
}
