package admin

import (
	"fmt"
	"time"

	"github.com/angeloszaimis/proxypool/internal/proxy"
)

type workerView struct {
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Route       string    `json:"route,omitempty"`
	Redirect    string    `json:"redirect,omitempty"`
	Status      string    `json:"status"`
	Usable      bool      `json:"usable"`
	LBSet       int       `json:"lbset"`
	LBFactor    int       `json:"lbfactor"`
	LBStatus    int64     `json:"lbstatus"`
	Elected     uint64    `json:"elected"`
	Busy        uint64    `json:"busy"`
	Retries     int       `json:"retries"`
	Transferred int64     `json:"transferred"`
	Read        int64     `json:"read"`
	ErrorTime   time.Time `json:"error_time,omitzero"`
	Connections poolView  `json:"connections"`
}

type poolView struct {
	Live    int `json:"live"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Waiting int `json:"waiting"`
}

type balancerView struct {
	Name          string       `json:"name"`
	Method        string       `json:"method"`
	Nonce         string       `json:"nonce"`
	Sticky        string       `json:"sticky,omitempty"`
	StickyPath    string       `json:"sticky_path,omitempty"`
	StickyForce   bool         `json:"sticky_force"`
	ForceRecovery bool         `json:"force_recovery"`
	Inactive      bool         `json:"inactive"`
	MaxAttempts   *int         `json:"max_attempts,omitempty"`
	MaxWorkers    int          `json:"max_workers"`
	Timeout       string       `json:"timeout,omitempty"`
	Updated       time.Time    `json:"updated,omitzero"`
	Members       []workerView `json:"members"`
}

type managerView struct {
	Balancers []balancerView `json:"balancers"`
	Workers   []workerView   `json:"workers"`
}

func viewOf(snap proxy.Snapshot) managerView {
	v := managerView{
		Balancers: make([]balancerView, 0, len(snap.Balancers)),
		Workers:   make([]workerView, 0, len(snap.Workers)),
	}
	for _, b := range snap.Balancers {
		v.Balancers = append(v.Balancers, balancerViewOf(b))
	}
	for _, w := range snap.Workers {
		v.Workers = append(v.Workers, workerViewOf(w))
	}
	return v
}

func balancerViewOf(b proxy.BalancerSnapshot) balancerView {
	bs := b.Status
	v := balancerView{
		Name:          bs.Name,
		Method:        b.Method,
		Nonce:         bs.Nonce,
		Sticky:        bs.Sticky,
		StickyPath:    bs.StickyPath,
		StickyForce:   bs.StickyForce,
		ForceRecovery: bs.ForceRecovery,
		Inactive:      bs.Inactive,
		MaxWorkers:    bs.MaxWorkers,
		Updated:       bs.Updated,
		Members:       make([]workerView, 0, len(b.Members)),
	}
	if bs.MaxAttemptsSet {
		v.MaxAttempts = &bs.MaxAttempts
	}
	if bs.Timeout > 0 {
		v.Timeout = bs.Timeout.String()
	}
	for _, m := range b.Members {
		v.Members = append(v.Members, workerViewOf(m))
	}
	return v
}

func workerViewOf(w proxy.WorkerSnapshot) workerView {
	ws := w.Status
	return workerView{
		Name:        ws.Name,
		URL:         fmt.Sprintf("%s://%s:%d", ws.Scheme, ws.Hostname, ws.Port),
		Route:       ws.Route,
		Redirect:    ws.Redirect,
		Status:      ws.Status.Letters(),
		Usable:      ws.Status.IsUsable(),
		LBSet:       ws.LBSet,
		LBFactor:    ws.LBFactor,
		LBStatus:    ws.LBStatus,
		Elected:     ws.Elected,
		Busy:        ws.Busy,
		Retries:     ws.Retries,
		Transferred: ws.Transferred,
		Read:        ws.Read,
		ErrorTime:   ws.ErrorTime,
		Connections: poolView{
			Live:    w.Pool.Live,
			Idle:    w.Pool.Idle,
			InUse:   w.Pool.InUse,
			Waiting: w.Pool.Waiting,
		},
	}
}
