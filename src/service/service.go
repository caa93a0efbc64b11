package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/snowdag/src/ledger"
	"github.com/mosaicnetworks/snowdag/src/net"
	"github.com/mosaicnetworks/snowdag/src/node"
	"github.com/mosaicnetworks/snowdag/src/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// maxBodySize bounds the request bodies the service reads.
const maxBodySize = 1 << 20

// MetricsPath serves the Prometheus metrics of the node.
const MetricsPath = "/metrics"

// Service serves the HTTP API of a node.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	server      *http.Server
	logger      *logrus.Entry
}

// NewService creates a Service for n and registers its routes.
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	service.server = &http.Server{
		Addr:    bindAddress,
		Handler: service.router,
	}

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering API handlers")

	s.router.HandleFunc(net.RootPath, s.makeHandler(s.Ping)).Methods(http.MethodGet)
	s.router.HandleFunc(net.PreferencePath, s.makeHandler(s.GetPreference)).Methods(http.MethodGet)
	s.router.HandleFunc(net.NodesPath, s.makeHandler(s.GetNodes)).Methods(http.MethodGet)
	s.router.HandleFunc(net.AddNodePath, s.makeHandler(s.AddNode)).Methods(http.MethodPost)
	s.router.HandleFunc(net.NodesAddPath, s.makeHandler(s.AddNode)).Methods(http.MethodPost)
	s.router.HandleFunc(net.BlockPath, s.makeHandler(s.PostBlock)).Methods(http.MethodPost)
	s.router.HandleFunc(net.BlockPath, s.makeHandler(s.Preflight)).Methods(http.MethodOptions)
	s.router.HandleFunc(net.AccountPath, s.makeHandler(s.GetAccount)).Methods(http.MethodGet)

	if reg := s.node.Registry(); reg != nil {
		s.router.Handle(MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("Incoming request")

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router of the service, for use in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call, which returns nil once
// Shutdown was called.
func (s *Service) Serve() error {
	s.logger.WithField("bind_address", s.bindAddress).Info("Serving API")

	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Ping answers 200 with an empty body.
func (s *Service) Ping(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Preflight answers CORS preflight requests for block submission.
func (s *Service) Preflight(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.WriteHeader(http.StatusNoContent)
}

// GetPreference returns the block the node prefers for the slot in the hash
// parameter, null when it has none.
func (s *Service) GetPreference(w http.ResponseWriter, r *http.Request) {
	slot := r.URL.Query().Get("hash")
	if slot == "" {
		s.writeMessage(w, http.StatusBadRequest, "missing hash parameter")
		return
	}

	pref, err := s.node.Preference(slot)
	if err != nil {
		s.logger.WithError(err).WithField("slot", slot).Error("Retrieving preference")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, pref)
}

// GetNodes returns the URL of the node followed by the URLs of its peers.
func (s *Service) GetNodes(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.node.Nodes())
}

// AddNode adds the node in the request body to the peers.
func (s *Service) AddNode(w http.ResponseWriter, r *http.Request) {
	var req net.AddNodeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		s.writeMessage(w, http.StatusBadRequest, "Invalid request.")
		return
	}

	switch err := s.node.AddNode(r.Context(), req.URL); {
	case err == nil:
		s.writeMessage(w, http.StatusOK, "Added to network.")
	case errors.Is(err, node.ErrNodeKnown):
		s.writeMessage(w, http.StatusConflict, "Node already added.")
	case errors.Is(err, node.ErrNodeUnreachable):
		s.writeMessage(w, http.StatusUnprocessableEntity, "Could not reach node.")
	default:
		s.logger.WithError(err).WithField("url", req.URL).Error("Adding node")
		s.writeMessage(w, http.StatusInternalServerError, err.Error())
	}
}

// BlockResponse is the body returned by PostBlock.
type BlockResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Hash    string `json:"hash,omitempty"`
}

var submitStatusCodes = map[node.SubmitStatus]int{
	node.Added:           http.StatusCreated,
	node.Accepted:        http.StatusOK,
	node.AlreadyAccepted: http.StatusOK,
	node.Pending:         http.StatusAccepted,
	node.Rejected:        http.StatusBadRequest,
	node.Invalid:         http.StatusBadRequest,
}

// PostBlock submits the block in the request body.
func (s *Service) PostBlock(w http.ResponseWriter, r *http.Request) {
	var block ledger.Block
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&block); err != nil {
		s.writeJSON(w, http.StatusBadRequest, BlockResponse{Msg: "Error processing block"})
		return
	}

	if r.URL.Query().Get(net.GossipParam) == "true" {
		s.receiveBlock(w, &block)
		return
	}

	// processing goes on when the client hangs up
	res, err := s.node.SubmitBlock(context.WithoutCancel(r.Context()), &block)
	if err != nil {
		s.logger.WithError(err).WithField("block", block.Hash).Warn("Could not process block")
		s.writeJSON(w, http.StatusInternalServerError, BlockResponse{Msg: "Error processing block."})
		return
	}

	code := submitStatusCodes[res.Status]
	s.writeJSON(w, code, BlockResponse{
		Success: code < http.StatusBadRequest,
		Msg:     res.Message(),
		Hash:    res.Hash,
	})
}

// receiveBlock answers a gossiped block before it is processed.
func (s *Service) receiveBlock(w http.ResponseWriter, block *ledger.Block) {
	err := s.node.ReceiveBlock(block)
	switch {
	case err == nil:
		s.writeJSON(w, http.StatusAccepted, BlockResponse{
			Success: true,
			Msg:     "Block received.",
			Hash:    block.Hash,
		})
	case errors.Is(err, node.ErrInvalidBlock):
		s.writeJSON(w, http.StatusBadRequest, BlockResponse{Msg: "Invalid Block: " + validation.InvalidFields.String()})
	default:
		s.logger.WithError(err).WithField("block", block.Hash).Debug("Could not take gossiped block")
		s.writeJSON(w, http.StatusServiceUnavailable, BlockResponse{Msg: err.Error()})
	}
}

// GetAccount returns the account of the address parameter, null when the
// address is unknown.
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		s.writeMessage(w, http.StatusBadRequest, "missing address parameter")
		return
	}

	account, err := s.node.GetAccount(address)
	if err != nil {
		s.logger.WithError(err).WithField("address", address).Error("Retrieving account")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, account)
}

func (s *Service) writeMessage(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, struct {
		Msg string `json:"msg"`
	}{msg})
}

func (s *Service) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Debug("Writing response")
	}
}
