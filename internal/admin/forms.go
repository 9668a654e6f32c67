package admin

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/angeloszaimis/proxypool/internal/status"
)

var flagExpr = regexp.MustCompile(`^[+-]?[A-Za-z]+([ ,]+[+-]?[A-Za-z]+)*$`)

var boolValues = []any{"0", "1", "on", "off", "true", "false"}

type workerForm struct {
	Balancer string
	Worker   string
	Nonce    string
	Status   string
	LBFactor string
	LBSet    string
	Route    *string
	Redirect *string
}

type balancerForm struct {
	Balancer      string
	Nonce         string
	StickyForce   string
	ForceRecovery string
	Inactive      string
	MaxAttempts   string
	Reset         string
	Method        string
}

type memberForm struct {
	Balancer string
	Nonce    string
	Name     string
	URL      string
	Route    string
	LBFactor string
}

func optional(form url.Values, key string) *string {
	if _, ok := form[key]; !ok {
		return nil
	}
	v := strings.TrimSpace(form.Get(key))
	return &v
}

func parseWorkerForm(form url.Values) workerForm {
	return workerForm{
		Balancer: strings.TrimSpace(form.Get("b")),
		Worker:   strings.TrimSpace(form.Get("w")),
		Nonce:    form.Get("nonce"),
		Status:   strings.TrimSpace(form.Get("status")),
		LBFactor: strings.TrimSpace(form.Get("lbfactor")),
		LBSet:    strings.TrimSpace(form.Get("lbset")),
		Route:    optional(form, "route"),
		Redirect: optional(form, "redirect"),
	}
}

func (f workerForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Balancer, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&f.Worker, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&f.Status, validation.Match(flagExpr)),
		validation.Field(&f.LBFactor, is.Int, validation.By(intBetween(1, 100))),
		validation.Field(&f.LBSet, is.Int, validation.By(intBetween(0, 99))),
		validation.Field(&f.Route, validation.Length(0, status.MaxRouteSize)),
		validation.Field(&f.Redirect, validation.Length(0, status.MaxRouteSize)),
	)
}

func parseBalancerForm(form url.Values) balancerForm {
	return balancerForm{
		Balancer:      strings.TrimSpace(form.Get("b")),
		Nonce:         form.Get("nonce"),
		StickyForce:   strings.ToLower(strings.TrimSpace(form.Get("sticky_force"))),
		ForceRecovery: strings.ToLower(strings.TrimSpace(form.Get("force_recovery"))),
		Inactive:      strings.ToLower(strings.TrimSpace(form.Get("inactive"))),
		MaxAttempts:   strings.TrimSpace(form.Get("max_attempts")),
		Reset:         strings.ToLower(strings.TrimSpace(form.Get("reset"))),
		Method:        strings.TrimSpace(form.Get("method")),
	}
}

func (f balancerForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Balancer, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&f.StickyForce, validation.In(boolValues...)),
		validation.Field(&f.ForceRecovery, validation.In(boolValues...)),
		validation.Field(&f.Inactive, validation.In(boolValues...)),
		validation.Field(&f.Reset, validation.In(boolValues...)),
		validation.Field(&f.MaxAttempts, is.Int, validation.By(intBetween(0, 1000))),
		validation.Field(&f.Method, validation.Length(1, status.MaxMethodSize)),
	)
}

func parseMemberForm(form url.Values) memberForm {
	return memberForm{
		Balancer: strings.TrimSpace(form.Get("b")),
		Nonce:    form.Get("nonce"),
		Name:     strings.TrimSpace(form.Get("name")),
		URL:      strings.TrimSpace(form.Get("url")),
		Route:    strings.TrimSpace(form.Get("route")),
		LBFactor: strings.TrimSpace(form.Get("lbfactor")),
	}
}

func (f memberForm) Validate() error {
	return validation.ValidateStruct(&f,
		validation.Field(&f.Balancer, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&f.Name, validation.Required, validation.Length(1, status.MaxNameSize)),
		validation.Field(&f.URL, validation.Required, is.URL),
		validation.Field(&f.Route, validation.Length(0, status.MaxRouteSize)),
		validation.Field(&f.LBFactor, is.Int, validation.By(intBetween(1, 100))),
	)
}

func intBetween(lo, hi int) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			// is.Int reports it.
			return nil
		}
		if n < lo || n > hi {
			return fmt.Errorf("must be between %d and %d", lo, hi)
		}
		return nil
	}
}

// flag parses an optional boolean form value.
func flag(s string) (value, set bool) {
	switch s {
	case "1", "on", "true":
		return true, true
	case "0", "off", "false":
		return false, true
	}
	return false, false
}

// number parses an optional validated integer form value.
func number(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}
