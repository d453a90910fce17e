package integration

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xssnick/tonutils-go/address"

	"NFTForge/client"
	"NFTForge/internal/network"
	"NFTForge/internal/stateinit"
)

// safeBuffer wraps bytes.Buffer with a mutex for concurrent read/write.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (sb *safeBuffer) Write(p []byte) (int, error) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.Write(p)
}

func (sb *safeBuffer) String() string {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	return sb.buf.String()
}

// Node is a running node process.
type Node struct {
	t        *testing.T
	cmd      *exec.Cmd          // cmd is the running process
	httpAddr string             // httpAddr is the HTTP API address
	quicAddr string             // quicAddr is the relay address
	dataDir  string             // dataDir is the node's data directory
	key      ed25519.PrivateKey // key is the node identity written to dataDir
	stdout   *safeBuffer        // stdout captures process output
	stderr   *safeBuffer        // stderr captures process errors
	cancel   context.CancelFunc // cancel stops the process
}

// Logs returns the node's stdout output.
func (n *Node) Logs() string { return n.stdout.String() }

// PublicKey returns the node relay identity.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.key.Public().(ed25519.PublicKey)
}

// Stop terminates the node process.
func (n *Node) Stop() {
	if n.cancel != nil {
		n.cancel()
	}

	if n.cmd != nil && n.cmd.Process != nil {
		n.cmd.Process.Kill()
		time.Sleep(100 * time.Millisecond)
	}
}

// Client returns an HTTP client for the node.
func (n *Node) Client(opts ...client.Option) *client.Client {
	return client.New(n.httpAddr, opts...)
}

// Relay dials the node relay, pinning its identity.
func (n *Node) Relay(ctx context.Context) *network.Conn {
	n.t.Helper()

	conn, err := network.Dial(ctx, n.quicAddr, network.WithServerKey(n.PublicKey()))
	if err != nil {
		n.t.Fatalf("dial relay %s: %v", n.quicAddr, err)
	}
	n.t.Cleanup(func() { conn.Close() })

	return conn
}

// WaitReady polls /health until the node answers.
func (n *Node) WaitReady(timeout time.Duration) {
	n.t.Helper()

	cli := n.Client()
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if n.cmd.ProcessState != nil {
			n.t.Fatalf("node exited:\nSTDOUT:\n%s\nSTDERR:\n%s", n.stdout.String(), n.stderr.String())
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := cli.Health(ctx)
		cancel()

		if err == nil {
			return
		}

		time.Sleep(100 * time.Millisecond)
	}

	n.t.Fatalf("node %s not ready after %v:\nSTDOUT:\n%s\nSTDERR:\n%s", n.httpAddr, timeout, n.stdout.String(), n.stderr.String())
}

var collectionLine = regexp.MustCompile(`collection ready name=(\S+) address=(\S+)`)

// Collection returns the address the node logged for the named genesis collection.
func (n *Node) Collection(name string) *address.Address {
	n.t.Helper()

	for _, m := range collectionLine.FindAllStringSubmatch(n.Logs(), -1) {
		if m[1] != name {
			continue
		}

		addr, err := stateinit.Parse(m[2])
		if err != nil {
			n.t.Fatalf("parse logged address %q: %v", m[2], err)
		}

		return addr
	}

	n.t.Fatalf("collection %q not found in logs:\n%s", name, n.Logs())

	return nil
}

// Harness builds the node binary once and starts nodes under a temp directory.
type Harness struct {
	t          *testing.T
	binaryPath string
	testDir    string
	nodes      []*Node
}

// NewHarness builds the binary and registers cleanup.
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	testDir, err := os.MkdirTemp("", "nftforge_it_*")
	if err != nil {
		t.Fatalf("create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(testDir) })

	h := &Harness{t: t, binaryPath: buildBinary(t), testDir: testDir}
	t.Cleanup(h.Stop)

	return h
}

// WriteFile writes a file under the harness directory and returns its path.
func (h *Harness) WriteFile(name, content string) string {
	h.t.Helper()

	path := filepath.Join(h.testDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		h.t.Fatalf("write %s: %v", name, err)
	}

	return path
}

// StartNode launches a node with the given extra flags.
func (h *Harness) StartNode(name string, args ...string) *Node {
	h.t.Helper()

	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}

	node := &Node{
		t:        h.t,
		httpAddr: freeTCPAddr(h.t),
		quicAddr: freeUDPAddr(h.t),
		dataDir:  filepath.Join(h.testDir, name),
		key:      key,
		stdout:   &safeBuffer{},
		stderr:   &safeBuffer{},
	}

	if err := os.MkdirAll(node.dataDir, 0o755); err != nil {
		h.t.Fatalf("create node dir: %v", err)
	}

	keyPath := filepath.Join(node.dataDir, "key")
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		h.t.Fatalf("write key: %v", err)
	}

	base := []string{
		"-data", node.dataDir,
		"-http", node.httpAddr,
		"-quic", node.quicAddr,
		"-key", keyPath,
	}

	ctx, cancel := context.WithCancel(context.Background())
	node.cancel = cancel

	node.cmd = exec.CommandContext(ctx, h.binaryPath, append(base, args...)...)
	node.cmd.Stdout = node.stdout
	node.cmd.Stderr = node.stderr
	node.cmd.Env = filterEnv(os.Environ())

	if err := node.cmd.Start(); err != nil {
		h.t.Fatalf("start node %s: %v", name, err)
	}

	// Wait in background so ProcessState gets set when the process exits.
	go node.cmd.Wait()

	h.nodes = append(h.nodes, node)

	return node
}

// Stop kills all nodes in parallel.
func (h *Harness) Stop() {
	var wg sync.WaitGroup

	for _, node := range h.nodes {
		wg.Add(1)

		go func(n *Node) {
			defer wg.Done()
			n.Stop()
		}(node)
	}

	wg.Wait()
}

// filterEnv drops NFTFORGE_* variables so the host environment cannot
// reconfigure test nodes.
func filterEnv(environ []string) []string {
	out := environ[:0:0]
	for _, kv := range environ {
		if !strings.HasPrefix(kv, "NFTFORGE_") {
			out = append(out, kv)
		}
	}

	return out
}

func freeTCPAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	defer l.Close()

	return l.Addr().String()
}

func freeUDPAddr(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve udp port: %v", err)
	}
	defer pc.Close()

	return pc.LocalAddr().String()
}

// buildBinary compiles the node binary into a unique temp file.
func buildBinary(t *testing.T) string {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "nftforge_node_*")
	if err != nil {
		t.Fatalf("create temp binary file: %v", err)
	}

	binary := tmpFile.Name()
	tmpFile.Close()

	cmd := exec.Command("go", "build", "-o", binary, "./cmd/node")
	cmd.Dir = getProjectRoot(t)

	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("build failed: %v\n%s", err, output)
	}

	t.Cleanup(func() { os.Remove(binary) })

	return binary
}

// getProjectRoot returns the directory containing go.mod.
func getProjectRoot(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("get working dir: %v", err)
	}

	dir := wd
	for i := 0; i < 5; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		dir = filepath.Dir(dir)
	}

	t.Fatalf("could not find project root from %s", wd)

	return ""
}
