package binding

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/driveagent/driveagent/internal/store"
)

// exportedBinding is the YAML shape of one ServerBinding. Credentials are
// deliberately excluded — a restored binding re-authenticates through
// BindServer.
type exportedBinding struct {
	LocalFolder string `yaml:"local_folder"`
	ServerURL   string `yaml:"server_url"`
	RemoteUser  string `yaml:"remote_user"`
}

type exportedBindings struct {
	Bindings []exportedBinding `yaml:"bindings"`
}

// ExportBindings serializes the current binding registry (credentials
// excluded) as YAML, for operator backup across reinstalls.
func (m *Manager) ExportBindings(ctx context.Context, w io.Writer) error {
	sess, err := m.store.Session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	bindings, err := sess.ListBindings(ctx)
	if err != nil {
		return err
	}

	out := exportedBindings{Bindings: make([]exportedBinding, 0, len(bindings))}
	for _, b := range bindings {
		out.Bindings = append(out.Bindings, exportedBinding{
			LocalFolder: b.LocalFolder,
			ServerURL:   b.ServerURL,
			RemoteUser:  b.RemoteUser,
		})
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	return enc.Encode(out)
}

// ImportBindings reads a YAML export and returns the bindings it
// describes; the caller re-authenticates each one via BindServer since
// credentials are never exported.
func (m *Manager) ImportBindings(r io.Reader) ([]store.ServerBinding, error) {
	var in exportedBindings
	if err := yaml.NewDecoder(r).Decode(&in); err != nil {
		return nil, fmt.Errorf("binding.ImportBindings: %w", err)
	}

	out := make([]store.ServerBinding, 0, len(in.Bindings))
	for _, b := range in.Bindings {
		out = append(out, store.ServerBinding{
			LocalFolder: b.LocalFolder,
			ServerURL:   b.ServerURL,
			RemoteUser:  b.RemoteUser,
		})
	}
	return out, nil
}
