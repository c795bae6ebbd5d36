package registry

// ServiceInstance describes one reachable server for a service.
type ServiceInstance struct {
	Addr    string
	Version string
}

// Registry abstracts service discovery. The server registers itself at
// startup and deregisters during shutdown; the client discovers instances
// when running in discovery mode.
type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
	Close() error
}
