package status

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/tinytxn/kv/kernel"
	"github.com/pingcap-incubator/tinytxn/kv/txnlog"
	"github.com/pingcap-incubator/tinytxn/log"
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
)

// Source provides the watermarks and log records served by the status
// server.
type Source interface {
	Status() kernel.Status
	Transaction(id uint64) (*txnlog.CommittedCommandBatch, txnlog.LogPosition, error)
}

// TransactionInfo describes the first log record of a transaction.
type TransactionInfo struct {
	TransactionID   uint64 `json:"transaction_id"`
	AppendIndex     uint64 `json:"append_index"`
	Kind            string `json:"kind"`
	KernelVersion   string `json:"kernel_version"`
	CommitTimestamp int64  `json:"commit_timestamp"`
	Checksum        uint32 `json:"checksum"`
	Commands        int    `json:"commands"`
	Position        string `json:"position"`
}

type statusHandler struct {
	src Source
	rd  *render.Render
}

func newStatusHandler(src Source, rd *render.Render) *statusHandler {
	return &statusHandler{src: src, rd: rd}
}

// Get serves the full status. It answers 503 once the id store is
// unhealthy so health checks notice the kernel went read-only.
func (h *statusHandler) Get(w http.ResponseWriter, r *http.Request) {
	s := h.src.Status()
	code := http.StatusOK
	if !s.Healthy {
		code = http.StatusServiceUnavailable
	}
	h.rd.JSON(w, code, s)
}

// Watermark serves a single watermark by name.
func (h *statusHandler) Watermark(w http.ResponseWriter, r *http.Request) {
	s := h.src.Status()
	var value uint64
	switch name := mux.Vars(r)["name"]; name {
	case "allocated":
		value = s.HighestAllocated
	case "appended":
		value = s.LastAppendIndex
	case "committed":
		value = s.LastCommitted
	case "closed":
		value = s.LastClosed
	case "applied":
		value = s.HighestApplied
	default:
		h.rd.JSON(w, http.StatusNotFound, "unknown watermark "+name)
		return
	}
	h.rd.JSON(w, http.StatusOK, value)
}

// Transaction serves the log record of one transaction.
func (h *statusHandler) Transaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	batch, pos, err := h.src.Transaction(id)
	if err == txnlog.ErrTransactionNotFound {
		h.rd.JSON(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, &TransactionInfo{
		TransactionID:   batch.TransactionID,
		AppendIndex:     batch.AppendIndex,
		Kind:            batch.Kind.String(),
		KernelVersion:   batch.KernelVersion.String(),
		CommitTimestamp: batch.CommitTimestamp,
		Checksum:        batch.Checksum,
		Commands:        len(batch.Commands),
		Position:        pos.String(),
	})
}

func NewRouter(src Source) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})
	router := mux.NewRouter()
	h := newStatusHandler(src, rd)
	router.HandleFunc("/status", h.Get).Methods("GET")
	router.HandleFunc("/watermarks/{name}", h.Watermark).Methods("GET")
	router.HandleFunc("/transactions/{id}", h.Transaction).Methods("GET")
	router.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler())
	return router
}

// Server serves the status router over HTTP.
type Server struct {
	srv      *http.Server
	listener net.Listener
}

// Start listens on addr and serves in the background.
func Start(addr string, src Source) (*Server, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "listen status address %s", addr)
	}
	s := &Server{srv: &http.Server{Handler: NewRouter(src)}, listener: l}
	go func() {
		if err := s.srv.Serve(l); err != nil && err != http.ErrServerClosed {
			log.Errorf("status server stopped: %v", err)
		}
	}()
	log.Infof("status server listening on %s", l.Addr())
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
