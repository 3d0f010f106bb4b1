package plugin

import (
	"context"
	"net/http"
	"testing"

	pluginv1 "github.com/relaycache/relaycache/api/defined/v1/plugin"
	"github.com/relaycache/relaycache/contrib/log"
)

type fakeOption struct{ name string }

func (o fakeOption) PluginName() string     { return o.name }
func (o fakeOption) Unmarshal(v any) error  { return nil }

type fakePlugin struct{}

func (fakePlugin) Start(ctx context.Context) error                      { return nil }
func (fakePlugin) Stop(ctx context.Context) error                       { return nil }
func (fakePlugin) AddRouter(router *http.ServeMux)                      {}
func (fakePlugin) HandleFunc(next http.HandlerFunc) http.HandlerFunc    { return next }

func TestRegisterAndCreate(t *testing.T) {
	Register("fake-test", func(opt pluginv1.Option, logger *log.Helper) (pluginv1.Plugin, error) {
		return fakePlugin{}, nil
	})

	p, err := Create(fakeOption{name: "fake-test"}, log.NewHelper(log.DefaultLogger))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p == nil {
		t.Fatalf("Create returned a nil plugin")
	}
}

func TestCreateUnknownNameErrors(t *testing.T) {
	_, err := Create(fakeOption{name: "does-not-exist"}, log.NewHelper(log.DefaultLogger))
	if err == nil {
		t.Fatalf("expected an error for an unregistered plugin name")
	}
}
