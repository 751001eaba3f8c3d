// Package notify mails the host's IPv4 addresses, so a headless logger can be
// found once it joins a network.
package notify

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ericogr/templogger/pkg/config"
	"github.com/pkg/errors"
	psnet "github.com/shirou/gopsutil/v3/net"
	"gopkg.in/gomail.v2"
)

const Subject = "Templogger connected to the internet"

// Interface is a network interface and its first IPv4 address.
type Interface struct {
	Name string
	IPv4 string
}

// InterfaceLister returns the host's interfaces.
type InterfaceLister func(ctx context.Context) ([]psnet.InterfaceStat, error)

func HostInterfaces(ctx context.Context) ([]psnet.InterfaceStat, error) {
	return psnet.InterfacesWithContext(ctx)
}

// Addresses lists interfaces that have an IPv4 address. Interfaces without
// one are skipped.
func Addresses(ctx context.Context, list InterfaceLister) ([]Interface, error) {
	stats, err := list(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list interfaces")
	}
	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		if ip, ok := firstIPv4(s); ok {
			out = append(out, Interface{Name: s.Name, IPv4: ip})
		}
	}
	return out, nil
}

// firstIPv4 returns the address part (before "/") of the first IPv4 address.
func firstIPv4(s psnet.InterfaceStat) (string, bool) {
	for _, a := range s.Addrs {
		host := strings.SplitN(a.Addr, "/", 2)[0]
		if ip := net.ParseIP(host); ip != nil && ip.To4() != nil && !strings.Contains(host, ":") {
			return host, true
		}
	}
	return "", false
}

func Body(ifaces []Interface) string {
	var b strings.Builder
	for _, i := range ifaces {
		fmt.Fprintf(&b, "%s: %s\n", i.Name, i.IPv4)
	}
	return b.String()
}

func NewMessage(from, to string, ifaces []Interface) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", Subject)
	m.SetBody("text/plain", Body(ifaces))
	return m
}

// Dialer opens an authenticated SMTP session. *gomail.Dialer implements it.
type Dialer interface {
	Dial() (gomail.SendCloser, error)
}

// ConnectError means the SMTP session could not be opened: unreachable
// server, TLS failure or rejected credentials.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string { return "smtp connect: " + e.Err.Error() }

func (e *ConnectError) Unwrap() error { return e.Err }

type Notifier struct {
	Dialer Dialer
	From   string
	To     string
}

// NewNotifier returns a notifier using implicit TLS (SMTPS) with login.
func NewNotifier(cfg config.SMTPConfig) *Notifier {
	d := gomail.NewDialer(cfg.Server, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = true
	return &Notifier{Dialer: d, From: cfg.From, To: cfg.To}
}

// Send mails the interface list. A failure to open the session is a
// *ConnectError; anything after that is a plain SMTP error.
func (n *Notifier) Send(ifaces []Interface) error {
	s, err := n.Dialer.Dial()
	if err != nil {
		return &ConnectError{Err: err}
	}
	defer s.Close()
	if err := gomail.Send(s, NewMessage(n.From, n.To, ifaces)); err != nil {
		return errors.Wrap(err, "smtp send")
	}
	return nil
}
