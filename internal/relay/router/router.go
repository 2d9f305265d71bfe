// Package router implements the relay's decrypt/re-encrypt hop.
//
// Every routable envelope is opened with the sender's session key and sealed
// again, independently, under each recipient's own key. Recipients never see
// ciphertext produced under another identity's key.
package router

import (
	"encoding/json"

	"gopkg.in/op/go-logging.v1"

	"relaychat/internal/crypto"
	"relaychat/internal/domain"
	"relaychat/internal/metrics"
	"relaychat/internal/relay/registry"
)

// Router dispatches authenticated envelopes to their recipients.
type Router struct {
	reg     *registry.Registry
	log     *logging.Logger
	metrics *metrics.Metrics
}

// New returns a Router over reg.
func New(reg *registry.Registry, log *logging.Logger, m *metrics.Metrics) *Router {
	return &Router{reg: reg, log: log, metrics: m}
}

// Route handles one envelope whose Sender has already been stamped with the
// authenticated identity of the connection it arrived on.
//
// Envelopes from identities without a session key and envelopes that fail to
// decrypt are dropped without any reply to the sender.
func (r *Router) Route(env domain.Envelope) {
	sender, ok := r.reg.Lookup(env.Sender)
	if !ok || !sender.HasSession() {
		r.drop(env, metrics.DropNoSession)
		return
	}

	body, err := crypto.DecryptBody(sender.SessionKey, env.Payload)
	if err != nil {
		r.drop(env, metrics.DropDecrypt)
		return
	}

	switch {
	case env.Type == domain.TypePublic:
		r.fanOut(env, body, "", false)
	case env.Type == domain.TypeFileOffer && env.To == domain.Broadcast:
		r.fanOut(env, body, env.Sender, true)
	case env.Type.Routable():
		r.direct(env, body, sender)
	default:
		r.log.Debugf("not routable: %s from %q", env.Type, env.Sender)
	}
}

// fanOut delivers body to every identity with a session, except skip. With
// readdress set, each copy is addressed to its recipient; otherwise to "*".
func (r *Router) fanOut(env domain.Envelope, body json.RawMessage, skip domain.Username, readdress bool) {
	for _, rcpt := range r.reg.Clients() {
		if rcpt.Username == skip || !rcpt.HasSession() {
			continue
		}
		out := env
		out.To = domain.Broadcast
		if readdress {
			out.To = rcpt.Username
		}
		r.deliver(out, body, rcpt)
	}
}

func (r *Router) direct(env domain.Envelope, body json.RawMessage, sender registry.Client) {
	rcpt, ok := r.reg.Lookup(env.To)
	if !ok || !rcpt.HasSession() {
		r.bounce(env, sender)
		return
	}
	r.deliver(env, body, rcpt)
}

func (r *Router) deliver(env domain.Envelope, body json.RawMessage, rcpt registry.Client) {
	sealed, err := crypto.EncryptBody(rcpt.SessionKey, body)
	if err != nil {
		r.log.Errorf("encrypt for %q: %v", rcpt.Username, err)
		r.metrics.Dropped.WithLabelValues(metrics.DropEncrypt).Inc()
		return
	}
	if env.Payload, err = json.Marshal(sealed); err != nil {
		r.log.Errorf("encode payload for %q: %v", rcpt.Username, err)
		r.metrics.Dropped.WithLabelValues(metrics.DropEncrypt).Inc()
		return
	}
	if err := rcpt.Conn.Send(env); err != nil {
		r.log.Warningf("deliver %s to %q: %v", env.Type, rcpt.Username, err)
		r.metrics.Dropped.WithLabelValues(metrics.DropSend).Inc()
		return
	}
	r.metrics.Routed.WithLabelValues(string(env.Type)).Inc()
}

// bounce reports an unknown recipient to the sender only.
func (r *Router) bounce(env domain.Envelope, sender registry.Client) {
	r.log.Debugf("%s from %q: no recipient %q", env.Type, env.Sender, env.To)
	notice, err := domain.NewEnvelope(domain.TypeError, "", env.Sender, domain.ErrorPayload{
		Code: domain.CodeUserNotFound,
		User: env.To,
	})
	if err != nil {
		r.log.Errorf("build bounce: %v", err)
		return
	}
	if err := sender.Conn.Send(notice); err != nil {
		r.log.Warningf("bounce to %q: %v", env.Sender, err)
	}
}

func (r *Router) drop(env domain.Envelope, reason string) {
	r.log.Debugf("drop %s from %q: %s", env.Type, env.Sender, reason)
	r.metrics.Dropped.WithLabelValues(reason).Inc()
}
