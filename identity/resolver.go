// Package identity turns BNS (.btc) and ENS (.eth) names into destination
// addresses for invoices.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"

	"settler/chain/evm"
	"settler/chain/stacks"
	"settler/invoice"
	"settler/observability"
)

// Chain is the chain a recipient must live on.
type Chain string

const (
	ChainStacks   Chain = "stacks"
	ChainEthereum Chain = "ethereum"
)

// ChainFor returns the destination chain of direction.
func ChainFor(direction invoice.Direction) Chain {
	if direction == invoice.StxToEth {
		return ChainEthereum
	}
	return ChainStacks
}

// Service names the lookup used for a name.
type Service string

const (
	ServiceBNS Service = "bns"
	ServiceENS Service = "ens"
)

// ResolutionError carries the message shown next to the recipient field.
type ResolutionError struct {
	Name    string
	Message string
	Err     error
}

func (e *ResolutionError) Error() string { return e.Message }

func (e *ResolutionError) Unwrap() error { return e.Err }

// ErrWrongChain marks a name used for the other chain's recipient.
var ErrWrongChain = errors.New("identity: name belongs to the other chain")

// BNSLookup is satisfied by *stacks.Client.
type BNSLookup interface {
	ResolveName(ctx context.Context, name string) (string, error)
}

// ENSLookup is satisfied by *evm.Client dialled against mainnet.
type ENSLookup interface {
	ResolveENS(ctx context.Context, registry common.Address, name string) (common.Address, error)
}

type Resolver struct {
	bns      BNSLookup
	ens      ENSLookup
	registry common.Address
	cache    Cache
	logger   *slog.Logger
	metrics  *observability.SettlerMetrics
}

type Option func(*Resolver)

func WithCache(c Cache) Option {
	return func(r *Resolver) { r.cache = c }
}

func WithENSRegistry(addr common.Address) Option {
	return func(r *Resolver) { r.registry = addr }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.logger = l
		}
	}
}

func WithMetrics(m *observability.SettlerMetrics) Option {
	return func(r *Resolver) { r.metrics = m }
}

// NewResolver builds a resolver. Either lookup may be nil, in which case
// names of that kind never resolve.
func NewResolver(bns BNSLookup, ens ENSLookup, opts ...Option) *Resolver {
	r := &Resolver{bns: bns, ens: ens, registry: evm.ENSRegistry, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRecipient trims input and, when it is a BNS or ENS name, resolves
// it for the expected chain. Plain addresses pass through unchanged; they
// are validated separately by invoice.CheckRecipientAddress.
func (r *Resolver) ResolveRecipient(ctx context.Context, input string, expected Chain) (string, error) {
	trimmed := strings.TrimSpace(input)
	switch {
	case invoice.IsBnsName(trimmed):
		if expected != ChainStacks {
			return "", &ResolutionError{Name: trimmed, Message: "BNS names (.btc) can only be used for Stacks recipients", Err: ErrWrongChain}
		}
		address, err := r.resolve(ctx, ServiceBNS, strings.ToLower(trimmed))
		if err != nil {
			return "", &ResolutionError{Name: trimmed, Message: "Could not resolve BNS name: " + trimmed, Err: err}
		}
		return address, nil
	case invoice.IsEnsName(trimmed):
		if expected != ChainEthereum {
			return "", &ResolutionError{Name: trimmed, Message: "ENS names (.eth) can only be used for Ethereum recipients", Err: ErrWrongChain}
		}
		normalized, err := NormalizeENS(trimmed)
		if err != nil {
			return "", &ResolutionError{Name: trimmed, Message: "Could not resolve ENS name: " + trimmed, Err: err}
		}
		address, err := r.resolve(ctx, ServiceENS, normalized)
		if err != nil {
			return "", &ResolutionError{Name: trimmed, Message: "Could not resolve ENS name: " + trimmed, Err: err}
		}
		return address, nil
	}
	return trimmed, nil
}

// Resolve looks a name up without a chain constraint.
func (r *Resolver) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case invoice.IsBnsName(name):
		return r.ResolveRecipient(ctx, name, ChainStacks)
	case invoice.IsEnsName(name):
		return r.ResolveRecipient(ctx, name, ChainEthereum)
	}
	return "", fmt.Errorf("identity: %q is not a BNS or ENS name", name)
}

func (r *Resolver) resolve(ctx context.Context, service Service, name string) (string, error) {
	if r.cache != nil {
		if address, ok, err := r.cache.Get(ctx, service, name); err != nil {
			r.logger.Warn("name cache read failed", slog.String("service", string(service)), slog.String("name", name), slog.Any("error", err))
		} else if ok {
			r.metrics.RecordResolution(string(service), "cached")
			return address, nil
		}
	}

	address, err := r.lookup(ctx, service, name)
	if err != nil {
		outcome := "error"
		if errors.Is(err, stacks.ErrNotFound) || errors.Is(err, evm.ErrENSNotFound) {
			outcome = "not_found"
		}
		r.metrics.RecordResolution(string(service), outcome)
		r.logger.Info("name resolution failed", slog.String("service", string(service)), slog.String("name", name), slog.Any("error", err))
		return "", err
	}
	r.metrics.RecordResolution(string(service), "resolved")
	if r.cache != nil {
		if err := r.cache.Put(ctx, service, name, address); err != nil {
			r.logger.Warn("name cache write failed", slog.String("service", string(service)), slog.Any("error", err))
		}
	}
	return address, nil
}

func (r *Resolver) lookup(ctx context.Context, service Service, name string) (string, error) {
	switch service {
	case ServiceBNS:
		if r.bns == nil {
			return "", errors.New("identity: bns lookup not configured")
		}
		address, err := r.bns.ResolveName(ctx, name)
		if err != nil {
			return "", err
		}
		if address == "" {
			return "", stacks.ErrNotFound
		}
		return address, nil
	case ServiceENS:
		if r.ens == nil {
			return "", errors.New("identity: ens lookup not configured")
		}
		addr, err := r.ens.ResolveENS(ctx, r.registry, name)
		if err != nil {
			return "", err
		}
		return addr.Hex(), nil
	}
	return "", fmt.Errorf("identity: unknown service %q", service)
}

var ensProfile = idna.New(
	idna.MapForLookup(),
	idna.Transitional(false),
	idna.StrictDomainName(false),
)

// NormalizeENS applies NFC and UTS-46 mapping to an ENS name and rejects
// empty labels.
func NormalizeENS(name string) (string, error) {
	composed := norm.NFC.String(strings.TrimSpace(name))
	mapped, err := ensProfile.ToUnicode(composed)
	if err != nil {
		return "", fmt.Errorf("identity: normalise %q: %w", name, err)
	}
	for _, label := range strings.Split(mapped, ".") {
		if label == "" {
			return "", fmt.Errorf("identity: %q has an empty label", name)
		}
	}
	return mapped, nil
}
