package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/angeloszaimis/proxypool/internal/balancer"
	"github.com/angeloszaimis/proxypool/internal/proxy"
	"github.com/angeloszaimis/proxypool/internal/status"
)

// Prefix is where the manager is mounted.
const Prefix = "/balancer-manager"

// Manager serves the balancer manager.
type Manager struct {
	logger   *slog.Logger
	ctrl     *proxy.Controller
	resolver balancer.MethodResolver
	defaults status.WorkerStatus
}

// NewManager returns a manager for ctrl. Methods named in forms are looked
// up with resolver. Members added at runtime start from defaults.
func NewManager(
	logger *slog.Logger,
	ctrl *proxy.Controller,
	resolver balancer.MethodResolver,
	defaults status.WorkerStatus,
) *Manager {
	return &Manager{
		logger:   logger.With(slog.String("component", "admin")),
		ctrl:     ctrl,
		resolver: resolver,
		defaults: defaults,
	}
}

// Register mounts the manager's routes on mux.
func (m *Manager) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET "+Prefix, m.handleView)
	mux.HandleFunc("POST "+Prefix+"/worker", m.handleWorker)
	mux.HandleFunc("POST "+Prefix+"/balancer", m.handleBalancer)
	mux.HandleFunc("POST "+Prefix+"/member", m.handleMember)
}

func (m *Manager) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(m.ctrl.Snapshot()))
}

func (m *Manager) handleWorker(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := parseWorkerForm(r.PostForm)
	if err := form.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, ok := m.authorize(w, form.Balancer, form.Nonce)
	if !ok {
		return
	}
	wk, ok := b.Worker(form.Worker)
	if !ok {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}

	if form.Route != nil {
		if err := wk.SetRoute(*form.Route); err != nil {
			if errors.Is(err, status.ErrExists) {
				http.Error(w, err.Error(), http.StatusConflict)
				return
			}
			m.internalError(w, "worker update failed", err)
			return
		}
	}

	before := wk.State()
	if form.Status != "" {
		if err := wk.ApplyFlags(form.Status); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	lbfactor, setFactor := number(form.LBFactor)
	lbset, setSet := number(form.LBSet)
	err := wk.Update(func(ws *status.WorkerStatus) {
		if setFactor {
			ws.LBFactor = lbfactor
		}
		if setSet {
			ws.LBSet = lbset
		}
		if form.Redirect != nil {
			ws.Redirect = *form.Redirect
		}
	})
	if err != nil {
		m.internalError(w, "worker update failed", err)
		return
	}

	m.logger.Info("Worker updated",
		slog.String("balancer", b.Name()),
		slog.String("worker", wk.Name()),
		slog.String("from", before.String()),
		slog.String("to", wk.State().String()))
	m.writeBalancer(w, http.StatusOK, b)
}

func (m *Manager) handleBalancer(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := parseBalancerForm(r.PostForm)
	if err := form.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, ok := m.authorize(w, form.Balancer, form.Nonce)
	if !ok {
		return
	}

	if form.Method != "" && !strings.EqualFold(form.Method, b.Method().Name()) {
		method, err := m.resolver(form.Method)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := b.SetMethod(method); err != nil {
			m.internalError(w, "method change failed", err)
			return
		}
		m.logger.Info("Balancer method changed",
			slog.String("balancer", b.Name()),
			slog.String("method", method.Name()))
	}

	err := b.Update(func(bs *status.BalancerStatus) {
		if v, ok := flag(form.StickyForce); ok {
			bs.StickyForce = v
		}
		if v, ok := flag(form.ForceRecovery); ok {
			bs.ForceRecovery = v
		}
		if v, ok := flag(form.Inactive); ok {
			bs.Inactive = v
		}
		if v, ok := flag(form.Reset); ok && v {
			bs.NeedReset = true
		}
		if n, ok := number(form.MaxAttempts); ok {
			bs.MaxAttempts = n
			bs.MaxAttemptsSet = true
		}
	})
	if err != nil {
		m.internalError(w, "balancer update failed", err)
		return
	}

	m.logger.Info("Balancer updated", slog.String("balancer", b.Name()))
	m.writeBalancer(w, http.StatusOK, b)
}

func (m *Manager) handleMember(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	form := parseMemberForm(r.PostForm)
	if err := form.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	b, ok := m.authorize(w, form.Balancer, form.Nonce)
	if !ok {
		return
	}

	scheme, host, port, err := proxy.ParseWorkerURL(form.URL)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def := m.defaults
	def.Name = form.Name
	def.Scheme, def.Hostname, def.Port = scheme, host, port
	def.Route = form.Route
	if n, ok := number(form.LBFactor); ok {
		def.LBFactor = n
	}

	wk, err := b.AddWorker(def)
	switch {
	case errors.Is(err, status.ErrCapacity), errors.Is(err, balancer.ErrDuplicate):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, status.ErrFieldTooLong):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		m.internalError(w, "member add failed", err)
		return
	}

	m.logger.Info("Balancer member added",
		slog.String("balancer", b.Name()),
		slog.String("worker", wk.Name()),
		slog.String("address", wk.Address()))
	m.writeBalancer(w, http.StatusCreated, b)
}

// authorize finds the named balancer and checks the nonce. It writes the
// error response itself when either fails.
func (m *Manager) authorize(w http.ResponseWriter, name, nonce string) (*balancer.Balancer, bool) {
	b, ok := m.ctrl.Balancer(name)
	if !ok {
		http.Error(w, "unknown balancer", http.StatusNotFound)
		return nil, false
	}
	if !b.CheckNonce(nonce) {
		m.logger.Warn("Rejected balancer manager request",
			slog.String("balancer", name),
			slog.String("reason", "bad nonce"))
		http.Error(w, "bad nonce", http.StatusForbidden)
		return nil, false
	}
	return b, true
}

func (m *Manager) writeBalancer(w http.ResponseWriter, code int, b *balancer.Balancer) {
	for _, snap := range m.ctrl.Snapshot().Balancers {
		if snap.Status.Name == b.Name() {
			writeJSON(w, code, balancerViewOf(snap))
			return
		}
	}
	w.WriteHeader(code)
}

func (m *Manager) internalError(w http.ResponseWriter, msg string, err error) {
	m.logger.Error(msg, slog.Any("error", err))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
