// server.go - HTTP JSON API of the node.
//
// The server exposes the ledger and the transaction pipeline: accounts and notes can be created
// and read, and transaction requests are executed, proven and committed in one call. A
// submission that does not finish within the request timeout fails with 504; nothing is
// committed for it. Creating accounts and notes mints state out of nothing, so those two
// endpoints answer 403 unless the server is built WithProvisioning.

package rpc

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"notevm/internal/account"
	"notevm/internal/client"
	"notevm/internal/field"
	"notevm/internal/ledger"
	"notevm/internal/metrics"
	"notevm/internal/note"
	"notevm/internal/prover"
	"notevm/internal/stdnotes"
	"notevm/internal/txexec"
	"notevm/internal/vm"
)

const (
	// DefaultRequestTimeout bounds the execution, proving and commit of one submission.
	DefaultRequestTimeout = 30 * time.Second

	gracefulShutdownTimeout = 30 * time.Second
	maxBodyBytes            = 4 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithMetrics counts requests and serves the collector at /metrics.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// WithProver proves transactions before they are committed.
func WithProver(p prover.Prover) Option {
	return func(s *Server) { s.prover = p }
}

// WithExecutor replaces the default executor over the ledger.
func WithExecutor(e *txexec.Executor) Option {
	return func(s *Server) { s.executor = e }
}

// WithRateLimit allows each client limit requests per second with bursts of burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(s *Server) { s.limiter = NewClientRateLimiter(limit, burst) }
}

// WithRequestTimeout sets the submission timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(s *Server) { s.timeout = d }
}

// WithProvisioning enables the endpoints that create accounts and notes.
func WithProvisioning() Option {
	return func(s *Server) { s.provisioning = true }
}

// WithVersion sets the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// Server serves the API.
type Server struct {
	ledger       *ledger.Ledger
	executor     *txexec.Executor
	prover       prover.Prover
	client       *client.Client
	health       *HealthChecker
	limiter      *ClientRateLimiter
	metrics      *metrics.Collector
	log          zerolog.Logger
	timeout      time.Duration
	version      string
	provisioning bool
	router       *mux.Router
}

// NewServer builds the API over a ledger.
func NewServer(l *ledger.Ledger, opts ...Option) *Server {
	s := &Server{
		ledger:  l,
		log:     zerolog.Nop(),
		timeout: DefaultRequestTimeout,
		version: "dev",
	}
	for _, o := range opts {
		o(s)
	}
	if s.executor == nil {
		s.executor = txexec.NewExecutor(l, txexec.WithLogger(s.log), txexec.WithMetrics(s.metrics))
	}
	clientOpts := []client.Option{client.WithExecutor(s.executor), client.WithLogger(s.log)}
	if s.prover != nil {
		clientOpts = append(clientOpts, client.WithProver(s.prover))
	}
	s.client = client.New(l, clientOpts...)

	s.health = NewHealthChecker(s.version)
	s.health.RegisterComponent("ledger", func() error {
		_, err := l.HasNote(field.EmptyWord)
		return err
	})
	s.health.RegisterComponent("prover", nil)
	if s.prover == nil {
		s.health.UpdateComponent("prover", Degraded, "no prover configured, transactions are committed unproven")
	}

	s.router = mux.NewRouter()
	s.router.Use(s.addRequestMetadataMiddleware)
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.rateLimitMiddleware)
	s.addRoutes()
	return s
}

func (s *Server) addRoutes() {
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(setJSONMiddleware)
	api.HandleFunc("/accounts", s.makeHandler(s.createAccountHandler)).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{id}", s.makeHandler(s.getAccountHandler)).Methods(http.MethodGet)
	api.HandleFunc("/notes", s.makeHandler(s.addNoteHandler)).Methods(http.MethodPost)
	api.HandleFunc("/notes/{id}", s.makeHandler(s.getNoteHandler)).Methods(http.MethodGet)
	api.HandleFunc("/transactions", s.makeHandler(s.submitTransactionHandler)).Methods(http.MethodPost)
	api.HandleFunc("/transactions/batch", s.makeHandler(s.submitBatchHandler)).Methods(http.MethodPost)
	api.HandleFunc("/transactions/{id}", s.makeHandler(s.getTransactionHandler)).Methods(http.MethodGet)

	s.router.Handle("/healthz", setJSONMiddleware(http.HandlerFunc(s.healthHandler))).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background. Failing to listen is returned at once.
// A later serving failure is sent on errc, which is closed when the server stops. stop shuts
// the server down gracefully.
func (s *Server) Start(addr string) (stop func(), errc <-chan error, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "listening on %s", addr)
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	served := make(chan error, 1)
	go func() {
		defer close(served)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("api server stopped")
			served <- err
		}
	}()
	s.log.Info().Stringer("addr", ln.Addr()).Msg("api server listening")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("shutting down api server")
		}
	}, served, nil
}

func decodeBody(r *http.Request, v interface{}) *handlerError {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return newHandlerError(http.StatusBadRequest, "malformed request body: "+err.Error())
	}
	return nil
}

func (s *Server) provisioningDisabled() *handlerError {
	if s.provisioning {
		return nil
	}
	return newHandlerError(http.StatusForbidden, "account and note provisioning is disabled on this node")
}

func (s *Server) createAccountHandler(r *http.Request, _ map[string]string) (int, interface{}, *handlerError) {
	if hErr := s.provisioningDisabled(); hErr != nil {
		return 0, nil, hErr
	}
	var req CreateAccountRequest
	if hErr := decodeBody(r, &req); hErr != nil {
		return 0, nil, hErr
	}
	var id account.ID
	if req.ID != nil {
		id = *req.ID
	} else {
		var err error
		if id, err = account.RandomID(); err != nil {
			return 0, nil, toHandlerError(err)
		}
	}
	var components []*vm.Library
	for _, name := range req.Components {
		switch name {
		case stdnotes.CounterNamespace:
			components = append(components, stdnotes.CounterLibrary())
		case stdnotes.MappingNamespace:
			components = append(components, stdnotes.MappingLibrary())
		case stdnotes.WalletNamespace:
		default:
			return 0, nil, newHandlerError(http.StatusBadRequest, "unknown account component "+name)
		}
	}
	if req.ValueSlots < 0 || req.MapSlots < 0 || req.ValueSlots+req.MapSlots > account.MaxStorageSlots {
		return 0, nil, newHandlerError(http.StatusBadRequest, "storage slots out of range")
	}
	slots := make([]account.StorageSlot, 0, req.ValueSlots+req.MapSlots)
	for i := 0; i < req.ValueSlots; i++ {
		slots = append(slots, account.NewValueSlot(field.EmptyWord))
	}
	for i := 0; i < req.MapSlots; i++ {
		slots = append(slots, account.NewMapSlot(nil))
	}
	storage, err := account.NewStorage(slots...)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, err.Error())
	}
	a, err := account.New(id, stdnotes.BasicWalletCode(components...), storage, req.Assets...)
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, err.Error())
	}
	if err := s.ledger.CreateAccount(a); err != nil {
		return 0, nil, toHandlerError(err)
	}
	return http.StatusCreated, newAccountView(a), nil
}

func (s *Server) getAccountHandler(_ *http.Request, vars map[string]string) (int, interface{}, *handlerError) {
	id, err := account.ParseID(vars["id"])
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, err.Error())
	}
	a, err := s.ledger.GetAccountState(id)
	if err != nil {
		return 0, nil, toHandlerError(err)
	}
	return http.StatusOK, newAccountView(a), nil
}

func (s *Server) addNoteHandler(r *http.Request, _ map[string]string) (int, interface{}, *handlerError) {
	if hErr := s.provisioningDisabled(); hErr != nil {
		return 0, nil, hErr
	}
	n := new(note.Note)
	if hErr := decodeBody(r, n); hErr != nil {
		return 0, nil, hErr
	}
	if err := s.ledger.AddNote(n); err != nil {
		return 0, nil, toHandlerError(err)
	}
	return http.StatusCreated, &NoteCreated{ID: n.ID(), Nullifier: n.Nullifier()}, nil
}

func (s *Server) getNoteHandler(_ *http.Request, vars map[string]string) (int, interface{}, *handlerError) {
	id, err := field.ParseWord(vars["id"])
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, err.Error())
	}
	n, err := s.ledger.GetNote(id)
	if err != nil {
		return 0, nil, toHandlerError(err)
	}
	consumed, err := s.ledger.IsConsumed(n.Nullifier())
	if err != nil {
		return 0, nil, toHandlerError(err)
	}
	return http.StatusOK, &NoteView{Note: n, Consumed: consumed}, nil
}

func (s *Server) submitTransactionHandler(r *http.Request, _ map[string]string) (int, interface{}, *handlerError) {
	req := new(txexec.Request)
	if hErr := decodeBody(r, req); hErr != nil {
		return 0, nil, hErr
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	tx, err := s.client.NewTransaction(ctx, req)
	if err != nil {
		return respond(failed(err), err)
	}
	return respond(s.submit(ctx, tx))
}

func (s *Server) submitBatchHandler(r *http.Request, _ map[string]string) (int, interface{}, *handlerError) {
	var batch BatchRequest
	if hErr := decodeBody(r, &batch); hErr != nil {
		return 0, nil, hErr
	}
	if len(batch.Requests) == 0 {
		return 0, nil, newHandlerError(http.StatusBadRequest, "empty batch")
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	results, _ := s.executor.ExecuteBatch(ctx, batch.Requests)
	out := &BatchResponse{Results: make([]*TransactionResponse, len(results))}
	for i, res := range results {
		if res.Err != nil {
			out.Results[i] = failed(res.Err)
			continue
		}
		out.Results[i], _ = s.submit(ctx, res.Tx)
	}
	return http.StatusOK, out, nil
}

func (s *Server) submit(ctx context.Context, tx *txexec.ExecutedTransaction) (*TransactionResponse, error) {
	res := s.client.SubmitTransaction(ctx, tx)
	if res.Status != client.Committed {
		resp := failed(res.Err)
		resp.Transaction = tx
		return resp, res.Err
	}
	resp := &TransactionResponse{Status: client.Committed, Transaction: tx, Height: res.Record.Height}
	if res.Proof != nil {
		resp.Proofs = len(res.Proof.Proofs)
	}
	return resp, nil
}

// failed describes a submission that was not committed.
func failed(err error) *TransactionResponse {
	resp := &TransactionResponse{Status: client.StatusOf(err), Error: err.Error()}
	var txErr *txexec.Error
	if errors.As(err, &txErr) {
		resp.AssertionTag, _ = txErr.AssertionTag()
		if txErr.NoteIndex >= 0 {
			idx := txErr.NoteIndex
			resp.NoteIndex = &idx
		}
	}
	return resp
}

// respond answers 200 for committed submissions and the status of the error otherwise. The body is a TransactionResponse in every case.
func respond(resp *TransactionResponse, err error) (int, interface{}, *handlerError) {
	if err == nil {
		return http.StatusOK, resp, nil
	}
	return statusFor(err), resp, nil
}

func (s *Server) getTransactionHandler(_ *http.Request, vars map[string]string) (int, interface{}, *handlerError) {
	id, err := field.ParseWord(vars["id"])
	if err != nil {
		return 0, nil, newHandlerError(http.StatusBadRequest, err.Error())
	}
	rec, err := s.ledger.Transaction(id)
	if err != nil {
		return 0, nil, toHandlerError(err)
	}
	return http.StatusOK, rec, nil
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	health := s.health.CheckHealth()
	code := http.StatusOK
	if health.OverallStatus == Unhealthy {
		code = http.StatusServiceUnavailable
	}
	sendJSONResponse(w, code, NewHealthResponse(health))
}
