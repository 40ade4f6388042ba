package paywall

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"

	"github.com/paywalld/paywalld/internal/pricing"
)

// PriceSource holds the current price list loaded from the pricelist file.
// The cache is explicit: Reload is driven by an external timer, never by a
// lazy read, and each successful reload bumps the generation counter. A
// missing file means no pricing is configured and the site is fully open.
type PriceSource struct {
	path string

	mu        sync.RWMutex
	gen       uint64
	priceList *pricing.PriceList
}

func NewPriceSource(path string) *PriceSource {
	return &PriceSource{path: path}
}

func (s *PriceSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.priceList = nil
		s.gen++
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read price list: %v", err)
	}

	priceList, err := pricing.FromJSON(data)
	if err != nil {
		// Keep serving the previous generation over a half-written file.
		return err
	}

	s.mu.Lock()
	s.priceList = priceList
	s.gen++
	s.mu.Unlock()
	return nil
}

// Get returns the current price list, nil when pricing is not configured.
func (s *PriceSource) Get() *pricing.PriceList {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.priceList
}

func (s *PriceSource) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// XPubSource holds the extended public key loaded from the key file. A
// missing file means payments cannot be requested; priced paths behave
// exactly as if no pricing were configured.
type XPubSource struct {
	path string

	mu   sync.RWMutex
	gen  uint64
	xPub *hdkeychain.ExtendedKey
}

func NewXPubSource(path string) *XPubSource {
	return &XPubSource{path: path}
}

func (s *XPubSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.xPub = nil
		s.gen++
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read extended key: %v", err)
	}

	xPub, err := hdkeychain.NewKeyFromString(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("failed to parse extended key: %v", err)
	}

	s.mu.Lock()
	s.xPub = xPub
	s.gen++
	s.mu.Unlock()
	return nil
}

// Get returns the current extended public key, nil when unavailable.
func (s *XPubSource) Get() *hdkeychain.ExtendedKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.xPub
}

func (s *XPubSource) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}
