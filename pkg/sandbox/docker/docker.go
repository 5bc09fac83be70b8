// Package docker runs interpreter sessions inside Docker containers. Each
// run gets its own container hosting a kernel gateway; the session talks to
// it over the kernel websocket protocol and tears the container down when
// the run ends.
package docker

import (
	"archive/tar"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path"
	"sync"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/nebelbild/data-analysis/pkg/sandbox"
	"github.com/nebelbild/data-analysis/pkg/sandbox/jupyter"
)

const (
	// LabelManager identifies containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "data-analysis"
	// LabelSession labels a container with the session that owns it.
	LabelSession = "analysis-session"
	// DefaultImage is the default sandbox container image.
	DefaultImage = "sandbox-kernel:latest"
	// ServerPort is the kernel gateway port inside the container.
	ServerPort = "8888"
)

// initCode runs once per session before any user code. It performs the
// blocking library imports, forces the headless backend, and defines the
// capture_current_figure helper that generated code calls to emit figures.
const initCode = `
import pandas as pd
import numpy as np
import matplotlib
matplotlib.use('Agg')
import matplotlib.pyplot as plt
import seaborn as sns
import io
import base64
from IPython.display import display, Image

plt.rcParams['axes.unicode_minus'] = False


def capture_current_figure():
    """Serialize the current matplotlib figure as an embedded image result."""
    buffer = io.BytesIO()
    plt.savefig(buffer, format='png', dpi=100, bbox_inches='tight')
    buffer.seek(0)
    display(Image(buffer.getvalue()))
    buffer.close()
    plt.close()


print("sandbox initialized")
`

// Manager creates one container-backed interpreter session per run.
type Manager struct {
	client *client.Client
	image  string
}

// Verify interface compliance.
var _ sandbox.Factory = (*Manager)(nil)

// New creates a Docker-backed session factory. An empty image selects
// DefaultImage.
func New(image string) (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	if image == "" {
		image = DefaultImage
	}
	return &Manager{client: cli, image: image}, nil
}

// Close releases the Docker client resources.
func (m *Manager) Close() error {
	return m.client.Close()
}

// Create starts a sandbox container, waits for the kernel gateway to come
// up, starts a kernel, and runs the initialization cell to completion before
// returning. The returned session is exclusive to the caller.
func (m *Manager) Create(ctx context.Context, timeout time.Duration) (sandbox.Session, error) {
	// Ensure the image exists locally before creating anything.
	if _, _, err := m.client.ImageInspectWithRaw(ctx, m.image); err != nil {
		return nil, fmt.Errorf("sandbox image %q not found, run 'make build-sandbox': %w", m.image, err)
	}

	id := uuid.New().String()[:8]

	cfg := &container.Config{
		Image: m.image,
		Labels: map[string]string{
			LabelManager: LabelManagerValue,
			LabelSession: id,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(ServerPort + "/tcp"): {},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(ServerPort + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0", // Dynamically assigned port.
				},
			},
		},
	}

	resp, err := m.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "analysis-sandbox-"+id)
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}

	s := &session{
		id:          "sandbox-" + id,
		containerID: resp.ID,
		docker:      m.client,
	}

	if err := m.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		s.Kill()
		return nil, fmt.Errorf("starting container: %w", err)
	}

	inspected, err := m.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		s.Kill()
		return nil, err
	}
	port, err := hostPort(inspected)
	if err != nil {
		s.Kill()
		return nil, err
	}
	s.port = port

	if err := waitForGateway(ctx, port, timeout); err != nil {
		s.Kill()
		return nil, err
	}

	kernelID, err := createKernel(ctx, port)
	if err != nil {
		s.Kill()
		return nil, fmt.Errorf("creating kernel: %w", err)
	}
	s.kernelID = kernelID

	wsURL := fmt.Sprintf("ws://127.0.0.1:%s/api/kernels/%s/channels", port, kernelID)
	kernel, err := jupyter.Dial(ctx, wsURL)
	if err != nil {
		s.Kill()
		return nil, err
	}
	s.kernel = kernel

	tempDir, err := os.MkdirTemp("", "analysis-sandbox-")
	if err != nil {
		s.Kill()
		return nil, fmt.Errorf("creating session temp dir: %w", err)
	}
	s.tempDir = tempDir

	// Run initialization and drain its output completely; user code must
	// never race a half-initialized interpreter.
	initResult, err := kernel.Execute(ctx, initCode, timeout)
	if err != nil {
		s.Kill()
		return nil, fmt.Errorf("initializing sandbox: %w", err)
	}
	if initResult.Err != nil {
		s.Kill()
		return nil, fmt.Errorf("sandbox initialization failed: %s", initResult.Err.Traceback)
	}

	slog.Info("Sandbox session ready", "session", s.id, "port", port)
	return s, nil
}

// session is one live container-backed interpreter context.
type session struct {
	id          string
	containerID string
	kernelID    string
	port        string
	kernel      *jupyter.Client
	docker      *client.Client
	tempDir     string

	killOnce sync.Once
}

// Verify interface compliance.
var _ sandbox.Session = (*session)(nil)

func (s *session) ID() string { return s.id }

// Execute runs one cell in the session's kernel.
func (s *session) Execute(ctx context.Context, code string, timeout time.Duration) (*sandbox.ExecResult, error) {
	if s.kernel == nil {
		return nil, fmt.Errorf("session %s has no live kernel", s.id)
	}
	return s.kernel.Execute(ctx, code, timeout)
}

// Upload stages a file into the container under sandbox.DataDir as a tar
// stream. A host-side copy lands in the session temp dir for diagnostics.
func (s *session) Upload(ctx context.Context, filePath string, content []byte) error {
	name := path.Base(filePath)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(content)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing upload archive header: %w", err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing upload archive: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing upload archive: %w", err)
	}

	if s.tempDir != "" {
		// Keep a host-side copy for diagnostics; failure is non-fatal.
		if err := os.WriteFile(path.Join(s.tempDir, name), content, 0o644); err != nil {
			slog.Warn("Staging upload copy failed", "session", s.id, "file", name, "error", err)
		}
	}

	err := s.docker.CopyToContainer(ctx, s.containerID, sandbox.DataDir, &buf, types.CopyToContainerOptions{})
	if err != nil {
		return fmt.Errorf("copying %s into sandbox: %w", name, err)
	}
	slog.Debug("Uploaded file to sandbox", "session", s.id, "file", name, "bytes", len(content))
	return nil
}

// Kill tears the session down: kernel, websocket, container, temp dir. Every
// sub-step is independently guarded so one failure does not block the rest.
// Safe to call multiple times and from error paths.
func (s *session) Kill() {
	s.killOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if s.kernelID != "" && s.port != "" {
			if err := deleteKernel(ctx, s.port, s.kernelID); err != nil {
				slog.Warn("Deleting kernel failed", "session", s.id, "error", err)
			}
		}
		if s.kernel != nil {
			if err := s.kernel.Close(); err != nil {
				slog.Warn("Closing kernel channel failed", "session", s.id, "error", err)
			}
		}
		if s.containerID != "" {
			timeout := 10
			if err := s.docker.ContainerStop(ctx, s.containerID, container.StopOptions{Timeout: &timeout}); err != nil {
				slog.Warn("Stopping container failed", "session", s.id, "error", err)
			}
			if err := s.docker.ContainerRemove(ctx, s.containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
				slog.Warn("Removing container failed", "session", s.id, "error", err)
			}
		}
		if s.tempDir != "" {
			if err := os.RemoveAll(s.tempDir); err != nil {
				slog.Warn("Removing session temp dir failed", "session", s.id, "error", err)
			}
		}
		slog.Info("Sandbox session destroyed", "session", s.id)
	})
}

func hostPort(c types.ContainerJSON) (string, error) {
	ports := c.NetworkSettings.Ports[nat.Port(ServerPort+"/tcp")]
	if len(ports) > 0 {
		return ports[0].HostPort, nil
	}
	return "", fmt.Errorf("container running but port not mapped")
}

func waitForGateway(ctx context.Context, port string, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	url := fmt.Sprintf("http://127.0.0.1:%s/api", port)
	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("timeout waiting for kernel gateway on port %s", port)
		case <-ticker.C:
			req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
	}
}

func createKernel(ctx context.Context, port string) (string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%s/api/kernels", port)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBufferString(`{"name":"python3"}`))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("kernel gateway returned status %d", resp.StatusCode)
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("kernel gateway returned no kernel id")
	}
	return created.ID, nil
}

func decodeJSON(resp *http.Response, v any) error {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding kernel gateway response: %w", err)
	}
	return nil
}

func deleteKernel(ctx context.Context, port, kernelID string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/api/kernels/%s", port, kernelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
