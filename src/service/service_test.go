package service

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/mosaicnetworks/snowdag/src/common"
	"github.com/mosaicnetworks/snowdag/src/config"
	"github.com/mosaicnetworks/snowdag/src/crypto"
	"github.com/mosaicnetworks/snowdag/src/crypto/keys"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/node"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url    string
	node   *node.Node
	server *httptest.Server
}

// newTestServer starts a node behind an httptest server. The node is not
// initialised.
func newTestServer(t *testing.T, seed string) *testServer {
	ts := httptest.NewUnstartedServer(nil)
	url := "http://" + ts.Listener.Addr().String()

	conf := config.NewTestConfig(t, common.TestLogLevel)
	conf.SetDataDir(t.TempDir())
	conf.AdvertiseAddr = url
	conf.Seed = seed

	logger := conf.Logger()
	client := net.NewHTTPClient(&http.Client{}, logger)
	n := node.NewNode(conf, ledger.NewInmemStore(logger), client)

	ts.Config.Handler = NewService(ts.Listener.Addr().String(), n, logger).Handler()
	ts.Start()

	t.Cleanup(func() {
		ts.Close()
		n.Shutdown()
	})

	return &testServer{url: url, node: n, server: ts}
}

func (s *testServer) init(t *testing.T) *testServer {
	require.NoError(t, s.node.Init(context.Background()))
	return s
}

func get(t *testing.T, url string) (*http.Response, string) {
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, strings.TrimSpace(string(body))
}

func post(t *testing.T, url string, body string) (*http.Response, string) {
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := ioutil.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, strings.TrimSpace(string(data))
}

func genesisKey(t *testing.T) *btcec.PrivateKey {
	d := make([]byte, 32)
	d[31] = 1
	priv, err := keys.ParsePrivateKey(d)
	require.NoError(t, err)
	return priv
}

func newAddress(t *testing.T) string {
	priv, err := keys.GenerateKey()
	require.NoError(t, err)
	return keys.Address(priv.PubKey())
}

func genesisSend(t *testing.T, to string, amount uint64) *ledger.Block {
	b := ledger.NewBlock(ledger.DefaultGenesisAddress, to, amount, crypto.GenesisSentinel)
	require.NoError(t, b.Sign(genesisKey(t)))
	return b
}

func TestReadRoutes(t *testing.T) {
	s := newTestServer(t, "").init(t)

	resp, _ := get(t, s.url+net.RootPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	resp, body := get(t, s.url+net.NodesPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["`+s.url+`"]`, body)

	slot := ledger.FirstSlot(newAddress(t))
	resp, body = get(t, s.url+net.PreferencePath+"?hash="+slot)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", body)

	resp, _ = get(t, s.url+net.PreferencePath)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = get(t, s.url+net.AccountPath+"?address="+ledger.DefaultGenesisAddress)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var account struct {
		Address string `json:"address"`
		Balance uint64 `json:"balance"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &account))
	assert.Equal(t, ledger.DefaultGenesisAddress, account.Address)
	assert.Equal(t, ledger.MaxAmount, account.Balance)

	resp, body = get(t, s.url+net.AccountPath+"?address="+newAddress(t))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "null", body)

	resp, _ = get(t, s.url+net.AccountPath)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPostBlock(t *testing.T) {
	s := newTestServer(t, "").init(t)
	client := net.NewHTTPClient(nil, nil)

	g1 := genesisSend(t, newAddress(t), 100)

	raw, err := json.Marshal(g1)
	require.NoError(t, err)

	resp, body := post(t, s.url+net.BlockPath, string(raw))
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"msg":"Block added.","hash":"`+g1.Hash+`"}`, body)

	// resubmitting is fine
	require.NoError(t, client.PostBlock(context.Background(), s.url, g1))

	pref, err := client.GetPreference(context.Background(), s.url, g1.Slot())
	require.NoError(t, err)
	assert.Equal(t, g1, pref)

	account, err := client.GetAccount(context.Background(), s.url, g1.Recipient)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), account.Balance())

	tampered := g1.Copy()
	tampered.Amount = 1000
	err = client.PostBlock(context.Background(), s.url, tampered)
	assert.True(t, net.IsStatus(err, http.StatusBadRequest))

	resp, _ = post(t, s.url+net.BlockPath, "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodOptions, s.url+net.BlockPath, nil)
	require.NoError(t, err)
	presp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	presp.Body.Close()
	assert.Equal(t, http.StatusNoContent, presp.StatusCode)
	assert.Contains(t, presp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestGossipBlock(t *testing.T) {
	s := newTestServer(t, "").init(t)
	client := net.NewHTTPClient(nil, nil)
	ctx := context.Background()

	g1 := genesisSend(t, newAddress(t), 100)

	raw, err := json.Marshal(g1)
	require.NoError(t, err)

	resp, body := post(t, s.url+net.BlockPath+"?"+net.GossipParam+"=true", string(raw))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"success":true,"msg":"Block received.","hash":"`+g1.Hash+`"}`, body)

	require.Eventually(t, func() bool {
		pref, err := client.GetPreference(ctx, s.url, g1.Slot())
		return err == nil && pref != nil && pref.Hash == g1.Hash
	}, 5*time.Second, 20*time.Millisecond)

	tampered := g1.Copy()
	tampered.Amount = 1000
	err = client.GossipBlock(ctx, s.url, tampered)
	assert.True(t, net.IsStatus(err, http.StatusBadRequest))

	require.NoError(t, s.node.Shutdown())
	err = client.GossipBlock(ctx, s.url, g1)
	assert.True(t, net.IsStatus(err, http.StatusServiceUnavailable))
}

func TestMetrics(t *testing.T) {
	s := newTestServer(t, "").init(t)

	resp, _ := post(t, s.url+net.BlockPath, `{"sender":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body := get(t, s.url+MetricsPath)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `snowdag_node_submissions_total{status="Invalid"} 1`)
}

func TestAddNode(t *testing.T) {
	a := newTestServer(t, "").init(t)
	b := newTestServer(t, "").init(t)

	client := net.NewHTTPClient(nil, nil)
	ctx := context.Background()

	require.NoError(t, client.AddNode(ctx, a.url, b.url))
	assert.True(t, a.node.Peers().HasPeer(b.url))

	err := client.AddNode(ctx, a.url, b.url)
	assert.True(t, net.IsStatus(err, http.StatusConflict))

	gone := httptest.NewServer(http.NotFoundHandler())
	goneURL := gone.URL
	gone.Close()

	err = client.AddNode(ctx, a.url, goneURL)
	assert.True(t, net.IsStatus(err, http.StatusUnprocessableEntity))

	// the original route still works
	resp, _ := post(t, a.url+net.AddNodePath, `{"url":"`+b.url+`"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = post(t, a.url+net.AddNodePath, `[]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// Nodes talking over HTTP: a new node bootstraps from a seed and a block
// submitted to it reaches the others.
func TestBootstrapOverHTTP(t *testing.T) {
	a := newTestServer(t, "").init(t)
	b := newTestServer(t, "").init(t)
	a.node.Peers().AddPeer(b.url)
	b.node.Peers().AddPeer(a.url)

	recipient := newAddress(t)
	g1 := genesisSend(t, recipient, 100)
	res, err := a.node.SubmitBlock(context.Background(), g1)
	require.NoError(t, err)
	require.Equal(t, node.Added, res.Status)

	assert.Eventually(t, func() bool {
		_, err := b.node.Store().GetBlock(g1.Hash)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)

	c := newTestServer(t, a.url).init(t)

	assert.Equal(t, 2, c.node.Peers().Len())
	assert.True(t, a.node.Peers().HasPeer(c.url))
	assert.True(t, b.node.Peers().HasPeer(c.url))

	account, err := c.node.GetAccount(recipient)
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, uint64(100), account.Balance())
}
