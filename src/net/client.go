package net

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/google/go-querystring/query"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/sirupsen/logrus"
)

// Client makes requests to other nodes.
type Client interface {
	// Ping succeeds when the node at url answers.
	Ping(ctx context.Context, url string) error
	// GetPreference returns the node's preference for a slot. A nil block
	// with a nil error means the node has no preference.
	GetPreference(ctx context.Context, url string, slot string) (*ledger.Block, error)
	// GetNodes returns the node's own URL followed by its peers.
	GetNodes(ctx context.Context, url string) ([]string, error)
	// GetAccount returns the node's view of an account, or nil when it does
	// not know the address.
	GetAccount(ctx context.Context, url string, address string) (*ledger.Account, error)
	// AddNode asks the node to add nodeURL to its peers.
	AddNode(ctx context.Context, url string, nodeURL string) error
	// PostBlock submits a block to the node and waits until it is processed.
	PostBlock(ctx context.Context, url string, block *ledger.Block) error
	// GossipBlock hands a block to the node, which processes it after
	// replying.
	GossipBlock(ctx context.Context, url string, block *ledger.Block) error
}

// StatusError is returned when a node replies with an unexpected HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// IsNoReply reports whether err means the peer did not answer, as opposed to
// answering with an error status.
func IsNoReply(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	return !errors.As(err, &se)
}

// Routes served by every node.
const (
	RootPath       = "/"
	PreferencePath = "/preference"
	NodesPath      = "/nodes"
	AddNodePath    = "/node/add"
	NodesAddPath   = "/nodes/node/add"
	BlockPath      = "/block"
	AccountPath    = "/accounts/account"
)

type preferenceQuery struct {
	Hash string `url:"hash"`
}

// GossipParam marks block posts that are answered before processing.
const GossipParam = "gossip"

type blockQuery struct {
	Gossip bool `url:"gossip"`
}

type accountQuery struct {
	Address string `url:"address"`
}

// AddNodeRequest is the body of AddNodePath.
type AddNodeRequest struct {
	URL string `json:"url"`
}

// HTTPClient implements Client over HTTP with JSON payloads. Deadlines come
// from the contexts.
type HTTPClient struct {
	client *http.Client
	logger *logrus.Entry
}

// NewHTTPClient creates an HTTPClient. A nil client means http.DefaultClient.
func NewHTTPClient(client *http.Client, logger *logrus.Entry) *HTTPClient {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// Ping implements the Client interface.
func (c *HTTPClient) Ping(ctx context.Context, url string) error {
	return c.do(ctx, http.MethodGet, url, RootPath, nil, nil, nil)
}

// GetPreference implements the Client interface.
func (c *HTTPClient) GetPreference(ctx context.Context, url string, slot string) (*ledger.Block, error) {
	var block *ledger.Block
	if err := c.do(ctx, http.MethodGet, url, PreferencePath, preferenceQuery{Hash: slot}, nil, &block); err != nil {
		return nil, err
	}
	return block, nil
}

// GetNodes implements the Client interface.
func (c *HTTPClient) GetNodes(ctx context.Context, url string) ([]string, error) {
	var nodes []string
	if err := c.do(ctx, http.MethodGet, url, NodesPath, nil, nil, &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetAccount implements the Client interface.
func (c *HTTPClient) GetAccount(ctx context.Context, url string, address string) (*ledger.Account, error) {
	var account *ledger.Account
	if err := c.do(ctx, http.MethodGet, url, AccountPath, accountQuery{Address: address}, nil, &account); err != nil {
		return nil, err
	}
	return account, nil
}

// AddNode implements the Client interface.
func (c *HTTPClient) AddNode(ctx context.Context, url string, nodeURL string) error {
	return c.do(ctx, http.MethodPost, url, NodesAddPath, nil, AddNodeRequest{URL: nodeURL}, nil)
}

// PostBlock implements the Client interface.
func (c *HTTPClient) PostBlock(ctx context.Context, url string, block *ledger.Block) error {
	return c.do(ctx, http.MethodPost, url, BlockPath, nil, block, nil)
}

// GossipBlock implements the Client interface.
func (c *HTTPClient) GossipBlock(ctx context.Context, url string, block *ledger.Block) error {
	return c.do(ctx, http.MethodPost, url, BlockPath, blockQuery{Gossip: true}, block, nil)
}

// do sends a request and decodes a JSON response into out, when out is not
// nil. Any 2xx status is a success.
func (c *HTTPClient) do(ctx context.Context, method, base, path string, q interface{}, in interface{}, out interface{}) error {
	target := strings.TrimRight(base, "/") + path

	if q != nil {
		values, err := query.Values(q)
		if err != nil {
			return err
		}
		target += "?" + values.Encode()
	}

	var body io.Reader
	if in != nil {
		buf := new(bytes.Buffer)
		if err := json.NewEncoder(buf).Encode(in); err != nil {
			return err
		}
		body = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := ioutil.ReadAll(io.LimitReader(resp.Body, 1024))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}

	return nil
}
