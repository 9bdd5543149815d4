package consul

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAgent struct {
	mu           sync.Mutex
	registered   *consulapi.AgentServiceRegistration
	deregistered string
}

func (f *fakeAgent) serve(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/v1/agent/service/register":
			var reg consulapi.AgentServiceRegistration
			require.NoError(t, json.NewDecoder(r.Body).Decode(&reg))
			f.registered = &reg
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/agent/service/deregister/"):
			f.deregistered = strings.TrimPrefix(r.URL.Path, "/v1/agent/service/deregister/")
		case r.Method == http.MethodGet && r.URL.Path == "/v1/health/service/storefront":
			_ = json.NewEncoder(w).Encode([]consulapi.ServiceEntry{{
				Node:    &consulapi.Node{Address: "10.0.0.1"},
				Service: &consulapi.AgentService{Service: "storefront", Port: 8080},
			}})
		case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/v1/health/service/"):
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRegisterAndDeregister(t *testing.T) {
	agent := &fakeAgent{}
	srv := agent.serve(t)
	client, err := NewClient(srv.Listener.Addr().String())
	require.NoError(t, err)

	reg, err := RegistrationFor("storefront", ":8080", "shop.internal", "/ping")
	require.NoError(t, err)
	require.NoError(t, Register(client, reg))

	agent.mu.Lock()
	got := agent.registered
	agent.mu.Unlock()
	require.NotNil(t, got)
	assert.Equal(t, "storefront", got.Name)
	assert.Equal(t, "shop.internal", got.Address)
	assert.Equal(t, 8080, got.Port)
	assert.Equal(t, "http://shop.internal:8080/ping", got.Check.HTTP)

	require.NoError(t, Deregister(client, reg.ID))
	agent.mu.Lock()
	defer agent.mu.Unlock()
	assert.Equal(t, "storefront-shop.internal:8080", agent.deregistered)
}

func TestGetServiceAddress(t *testing.T) {
	srv := (&fakeAgent{}).serve(t)
	client, err := NewClient(srv.Listener.Addr().String())
	require.NoError(t, err)

	host, port, err := GetServiceAddress(client, "storefront")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", host)
	assert.Equal(t, 8080, port)

	_, _, err = GetServiceAddress(client, "missing")
	assert.Error(t, err)
}

func TestRegistrationForDefaultsHost(t *testing.T) {
	reg, err := RegistrationFor("storefront", ":9000", "", "/ping")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", reg.Host)
	assert.Equal(t, 9000, reg.Port)

	_, err = RegistrationFor("storefront", "no-port", "", "/ping")
	assert.Error(t, err)
}
