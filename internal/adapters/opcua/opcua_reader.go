package opcua

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"

	"github.com/ghalamif/aegis-poller/internal/domain"
	"github.com/ghalamif/aegis-poller/internal/ports"
)

// Config captures the runtime details required to open an OPC UA session.
type Config struct {
	Endpoint        string `yaml:"endpoint"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	SecurityMode    string `yaml:"security_mode"`
	SecurityPolicy  string `yaml:"security_policy"`
	ApplicationName string `yaml:"application_name"`
}

// Node maps an OPC UA node to a metric name.
type Node struct {
	Metric string
	NodeID string
}

func (c *Config) ApplyDefaults() {
	if c.SecurityMode == "" {
		c.SecurityMode = "None"
	}
	if c.SecurityPolicy == "" {
		c.SecurityPolicy = "None"
	}
	if c.ApplicationName == "" {
		c.ApplicationName = "AegisPoller"
	}
}

func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	return nil
}

// Reader performs one synchronous Read of every configured node per poll.
// The session is opened lazily and dropped after a transport failure so
// the next poll reconnects.
type Reader struct {
	name    string
	cfg     Config
	nodes   []Node
	nodeIDs []*ua.NodeID
	timeout time.Duration

	mu     sync.Mutex
	client *opcua.Client
}

func NewReader(name string, cfg Config, nodes []Node, timeout time.Duration) (*Reader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: group %q: opcua: %v", domain.ErrConfig, name, err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: group %q: opcua: at least one node must be configured", domain.ErrConfig, name)
	}

	ids := make([]*ua.NodeID, 0, len(nodes))
	for _, node := range nodes {
		id, err := ParseNodeID(node.NodeID)
		if err != nil {
			return nil, fmt.Errorf("%w: group %q: %v", domain.ErrConfig, name, err)
		}
		ids = append(ids, id)
	}

	return &Reader{
		name:    name,
		cfg:     cfg,
		nodes:   nodes,
		nodeIDs: ids,
		timeout: timeout,
	}, nil
}

func (r *Reader) Name() string { return r.name }

// ParseNodeID accepts the textual node id forms of ua.ParseNodeID except the
// empty string, which ua maps to the null node i=0.
func ParseNodeID(id string) (*ua.NodeID, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("node id is empty")
	}
	parsed, err := ua.ParseNodeID(id)
	if err != nil {
		return nil, fmt.Errorf("parse node id %q: %v", id, err)
	}
	return parsed, nil
}

func (r *Reader) Read(ctx context.Context) (domain.Reading, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	client, err := r.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnBoth,
		NodesToRead:        make([]*ua.ReadValueID, 0, len(r.nodeIDs)),
	}
	for _, id := range r.nodeIDs {
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{
			NodeID:      id,
			AttributeID: ua.AttributeIDValue,
		})
	}

	resp, err := client.Read(ctx, req)
	if err != nil {
		r.dropClient(ctx)
		return nil, fmt.Errorf("%w: opcua read %s: %v", domain.ErrAdapterInvocation, r.cfg.Endpoint, err)
	}
	return decodeResults(r.nodes, resp.Results)
}

// Close ends the session if one is open.
func (r *Reader) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close(ctx)
	r.client = nil
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (r *Reader) connect(ctx context.Context) (*opcua.Client, error) {
	if r.client != nil {
		return r.client, nil
	}

	client, err := opcua.NewClient(r.cfg.Endpoint, r.buildClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("%w: opcua new client: %v", domain.ErrAdapterInvocation, err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: opcua connect %s: %v", domain.ErrAdapterInvocation, r.cfg.Endpoint, err)
	}
	r.client = client
	return client, nil
}

func (r *Reader) dropClient(ctx context.Context) {
	if r.client != nil {
		_ = r.client.Close(ctx)
		r.client = nil
	}
}

func (r *Reader) buildClientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityModeString(normalizeSecurityMode(r.cfg.SecurityMode)),
		opcua.SecurityPolicy(normalizeSecurityPolicy(r.cfg.SecurityPolicy)),
		opcua.ApplicationName(r.cfg.ApplicationName),
	}

	if r.cfg.Username != "" {
		opts = append(opts, opcua.AuthUsername(r.cfg.Username, r.cfg.Password))
	} else {
		opts = append(opts, opcua.AuthAnonymous())
	}
	return opts
}

// decodeResults pairs read results with nodes by position.
func decodeResults(nodes []Node, results []*ua.DataValue) (domain.Reading, error) {
	if len(results) != len(nodes) {
		return nil, fmt.Errorf("%w: opcua returned %d results for %d nodes", domain.ErrAdapterDecode, len(results), len(nodes))
	}

	reading := make(domain.Reading, len(nodes))
	for i, node := range nodes {
		dv := results[i]
		if dv == nil {
			return nil, fmt.Errorf("%w: node %s: empty result", domain.ErrAdapterDecode, node.NodeID)
		}
		if dv.Status != ua.StatusOK {
			return nil, fmt.Errorf("%w: node %s: %s", domain.ErrAdapterDecode, node.NodeID, dv.Status)
		}
		v, ok := variantToFloat(dv.Value)
		if !ok {
			return nil, fmt.Errorf("%w: node %s: unsupported or non-finite value", domain.ErrAdapterDecode, node.NodeID)
		}
		reading[node.Metric] = v
	}
	return reading, nil
}

func variantToFloat(v *ua.Variant) (float64, bool) {
	if v == nil {
		return 0, false
	}

	switch val := v.Value().(type) {
	case float32:
		return finite(float64(val))
	case float64:
		return finite(val)
	case int8:
		return float64(val), true
	case uint8:
		return float64(val), true
	case int16:
		return float64(val), true
	case uint16:
		return float64(val), true
	case int32:
		return float64(val), true
	case uint32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint64:
		return float64(val), true
	case bool:
		if val {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// finite rejects NaN and infinities; they cannot be served or recorded as JSON.
func finite(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func normalizeSecurityMode(mode string) string {
	switch strings.ToLower(mode) {
	case "sign":
		return "Sign"
	case "signandencrypt", "signencrypt", "sign_and_encrypt", "sign+encrypt":
		return "SignAndEncrypt"
	default:
		return "None"
	}
}

func normalizeSecurityPolicy(policy string) string {
	if policy == "" {
		return "None"
	}
	return policy
}

var _ ports.SensorReader = (*Reader)(nil)
