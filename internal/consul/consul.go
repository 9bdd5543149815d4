package consul

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	consulapi "github.com/hashicorp/consul/api"
)

func NewClient(addr string) (*consulapi.Client, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	client, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}
	return client, nil
}

// Registration describes this instance to the Consul agent.
type Registration struct {
	ID        string
	Name      string
	Host      string
	Port      int
	HealthURL string
	Tags      []string
}

// RegistrationFor derives a registration from the HTTP listen address.
// An empty host in addr is replaced by advertiseHost.
func RegistrationFor(name, addr, advertiseHost, healthPath string) (Registration, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Registration{}, fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Registration{}, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}
	if advertiseHost != "" {
		host = advertiseHost
	}
	if host == "" {
		host = "127.0.0.1"
	}
	hostPort := net.JoinHostPort(host, portStr)
	return Registration{
		ID:        fmt.Sprintf("%s-%s", name, hostPort),
		Name:      name,
		Host:      host,
		Port:      port,
		HealthURL: "http://" + hostPort + healthPath,
	}, nil
}

func Register(client *consulapi.Client, r Registration) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      r.ID,
		Name:    r.Name,
		Address: r.Host,
		Port:    r.Port,
		Tags:    r.Tags,
		Check: &consulapi.AgentServiceCheck{
			HTTP:                           r.HealthURL,
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
	if err := client.Agent().ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	return nil
}

func Deregister(client *consulapi.Client, id string) error {
	if err := client.Agent().ServiceDeregister(id); err != nil {
		return fmt.Errorf("failed to deregister service: %w", err)
	}
	return nil
}

// GetServiceAddress returns the address of a healthy instance of serviceName.
func GetServiceAddress(client *consulapi.Client, serviceName string) (string, int, error) {
	entries, _, err := client.Health().Service(serviceName, "", true, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to query service %s: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return "", 0, errors.New("no healthy instance of " + serviceName)
	}
	e := entries[0]
	address := e.Service.Address
	if address == "" && e.Node != nil {
		address = e.Node.Address
	}
	return address, e.Service.Port, nil
}
