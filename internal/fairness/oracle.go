// Package fairness derives game outcomes from values fixed before the outcome
// could be known, and lets anyone recompute them afterwards.
//
// Two flows are supported. Resolve is the immediate flow used by the pool
// engines: every participant input is already locked in, so the oracle only
// mixes in a server seed. Commit/Reveal is the classic flow: a Keccak-256
// commitment to a secret is registered together with the inputs it will be
// combined with, and the outcome only exists once the matching secret is
// revealed.
//
// Server seeds form a chain. The hash of the next seed is published before
// it is used (NextSeedHash), and every Resolution carries that hash, so the
// operator cannot redraw entropy until it likes an outcome.
package fairness

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shellsino/backend/internal/wager"
	"golang.org/x/crypto/sha3"
)

const domainTag = "shellsino/fairness/v1"

// Resolution is the auditable record of one outcome derivation.
type Resolution struct {
	Key          string    `json:"key"`
	CommitmentID string    `json:"commitment_id,omitempty"`
	Commitment   string    `json:"commitment,omitempty"`
	Secret       string    `json:"secret,omitempty"`
	Entropy      string    `json:"entropy"`
	EntropyHash  string    `json:"entropy_hash,omitempty"`
	Inputs       string    `json:"inputs"`
	Seed         string    `json:"seed"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Bit returns the low bit of the seed (0 or 1).
func (r Resolution) Bit() int {
	return int(r.seedInt().Bit(0))
}

// Index maps the seed uniformly onto [0, n).
func (r Resolution) Index(n int) int {
	if n <= 0 {
		return 0
	}
	m := new(big.Int).Mod(r.seedInt(), big.NewInt(int64(n)))
	return int(m.Int64())
}

func (r Resolution) seedInt() *big.Int {
	b, _ := hex.DecodeString(r.Seed)
	return new(big.Int).SetBytes(b)
}

// Keccak256 hashes data with legacy Keccak-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// CommitmentFor returns the commitment a secret must match on reveal.
func CommitmentFor(secret []byte) []byte {
	return Keccak256(secret)
}

// deriveSeed length-prefixes every field so no two input tuples collide.
func deriveSeed(key string, secret, entropy []byte, inputs string) []byte {
	var buf bytes.Buffer
	for _, field := range [][]byte{[]byte(domainTag), []byte(key), secret, entropy, []byte(inputs)} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(field)))
		buf.Write(n[:])
		buf.Write(field)
	}
	return Keccak256(buf.Bytes())
}

// Verify recomputes a resolution from its recorded inputs.
func Verify(r Resolution) error {
	secret, err := hex.DecodeString(r.Secret)
	if err != nil {
		return wager.Fairness(wager.CodeCommitmentMismatch, "secret is not hex")
	}
	entropy, err := hex.DecodeString(r.Entropy)
	if err != nil {
		return wager.Fairness(wager.CodeCommitmentMismatch, "entropy is not hex")
	}
	if r.EntropyHash != "" && hex.EncodeToString(Keccak256(entropy)) != r.EntropyHash {
		return wager.Fairness(wager.CodeCommitmentMismatch, "entropy does not match its published hash")
	}
	if r.Commitment != "" {
		if hex.EncodeToString(CommitmentFor(secret)) != r.Commitment {
			return wager.Fairness(wager.CodeCommitmentMismatch, "secret does not match commitment")
		}
	}
	if hex.EncodeToString(deriveSeed(r.Key, secret, entropy, r.Inputs)) != r.Seed {
		return wager.Fairness(wager.CodeCommitmentMismatch, "seed does not match recorded inputs")
	}
	return nil
}

type commitmentState string

const (
	commitmentRevealed  commitmentState = "revealed"
	commitmentForfeited commitmentState = "forfeited"
)

type commitment struct {
	id     string
	owner  string
	key    string
	hash   []byte
	inputs string
}

const (
	// DefaultRetain bounds how many resolutions and closed commitments stay
	// in memory. The durable audit record is the game or round row.
	DefaultRetain = 1024
	// DefaultMaxOpen bounds pending commitments per owner.
	DefaultMaxOpen = 16
)

// Oracle is safe for concurrent use.
type Oracle struct {
	entropy EntropySource
	now     func() time.Time
	retain  int
	maxOpen int

	mu      sync.Mutex
	seed    []byte
	pending map[string]*commitment
	byKey   map[string]string
	open    map[string]int

	closed      map[string]commitmentState
	closedOrder []string

	resolved      map[string]Resolution
	resolvedOrder []string
}

func NewOracle(src EntropySource) *Oracle {
	if src == nil {
		src = SystemEntropy{}
	}
	return &Oracle{
		entropy:  src,
		now:      time.Now,
		retain:   DefaultRetain,
		maxOpen:  DefaultMaxOpen,
		pending:  make(map[string]*commitment),
		byKey:    make(map[string]string),
		open:     make(map[string]int),
		closed:   make(map[string]commitmentState),
		resolved: make(map[string]Resolution),
	}
}

// SetLimits overrides DefaultRetain and DefaultMaxOpen. Values <= 0 keep the
// current setting.
func (o *Oracle) SetLimits(retain, maxOpen int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if retain > 0 {
		o.retain = retain
	}
	if maxOpen > 0 {
		o.maxOpen = maxOpen
	}
}

// NextSeedHash returns the hex Keccak-256 of the server seed the next
// resolution will use.
func (o *Oracle) NextSeedHash(ctx context.Context) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.ensureSeed(ctx); err != nil {
		return "", err
	}
	return hex.EncodeToString(Keccak256(o.seed)), nil
}

func (o *Oracle) ensureSeed(ctx context.Context) error {
	if o.seed != nil {
		return nil
	}
	seed, err := o.entropy.Entropy(ctx)
	if err != nil {
		return err
	}
	o.seed = seed
	return nil
}

// takeSeed returns the current seed and advances the chain. The replacement
// is drawn first, so a failed draw leaves the published seed in place.
// Callers hold o.mu.
func (o *Oracle) takeSeed(ctx context.Context) ([]byte, error) {
	if err := o.ensureSeed(ctx); err != nil {
		return nil, err
	}
	next, err := o.entropy.Entropy(ctx)
	if err != nil {
		return nil, err
	}
	used := o.seed
	o.seed = next
	return used, nil
}

func (o *Oracle) remember(r Resolution) {
	o.resolved[r.Key] = r
	o.resolvedOrder = append(o.resolvedOrder, r.Key)
	for len(o.resolvedOrder) > o.retain {
		delete(o.resolved, o.resolvedOrder[0])
		o.resolvedOrder = o.resolvedOrder[1:]
	}
}

func (o *Oracle) close(c *commitment, state commitmentState) {
	delete(o.pending, c.id)
	delete(o.byKey, c.key)
	o.open[c.owner]--
	if o.open[c.owner] <= 0 {
		delete(o.open, c.owner)
	}
	o.closed[c.id] = state
	o.closedOrder = append(o.closedOrder, c.id)
	for len(o.closedOrder) > o.retain {
		delete(o.closed, o.closedOrder[0])
		o.closedOrder = o.closedOrder[1:]
	}
}

// Commit registers a 32-byte commitment for the outcome identified by key,
// binding the inputs it will be combined with. owner may hold at most
// DefaultMaxOpen pending commitments.
func (o *Oracle) Commit(owner, key string, hash []byte, inputs string) (string, error) {
	if key == "" {
		return "", wager.InvalidInput(wager.CodeCommitmentNotFound, "commitment key required")
	}
	if len(hash) != 32 {
		return "", wager.InvalidInput(wager.CodeCommitmentMismatch, "commitment must be 32 bytes, got %d", len(hash))
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, done := o.resolved[key]; done {
		return "", wager.Fairness(wager.CodeAlreadyResolved, "outcome %s already resolved", key)
	}
	if _, exists := o.byKey[key]; exists {
		return "", wager.Conflict(wager.CodeDuplicateEntry, "outcome %s already has a commitment", key)
	}
	if o.open[owner] >= o.maxOpen {
		return "", wager.Conflict(wager.CodeCommitmentLimit, "%s already has %d open commitments", owner, o.open[owner])
	}

	c := &commitment{
		id:     uuid.NewString(),
		owner:  owner,
		key:    key,
		hash:   append([]byte(nil), hash...),
		inputs: inputs,
	}
	o.pending[c.id] = c
	o.byKey[key] = c.id
	o.open[owner]++
	return c.id, nil
}

// Reveal checks secret against the commitment and derives the outcome from
// the secret and the next server seed. A mismatching secret forfeits the
// commitment; it can never be revealed afterwards.
func (o *Oracle) Reveal(ctx context.Context, id string, secret []byte) (Resolution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	c, ok := o.pending[id]
	if !ok {
		if state, seen := o.closed[id]; seen {
			return Resolution{}, wager.Fairness(wager.CodeCommitmentClosed, "commitment %s is %s", id, state)
		}
		return Resolution{}, wager.Fairness(wager.CodeCommitmentNotFound, "no commitment %s", id)
	}
	if !bytes.Equal(CommitmentFor(secret), c.hash) {
		o.close(c, commitmentForfeited)
		log.Printf("[FAIRNESS] Commitment %s forfeited: reveal mismatch for %s", id, c.key)
		return Resolution{}, wager.Fairness(wager.CodeCommitmentMismatch, "secret does not match commitment %s", id)
	}

	seed, err := o.takeSeed(ctx)
	if err != nil {
		return Resolution{}, err
	}

	r := Resolution{
		Key:          c.key,
		CommitmentID: c.id,
		Commitment:   hex.EncodeToString(c.hash),
		Secret:       hex.EncodeToString(secret),
		Entropy:      hex.EncodeToString(seed),
		EntropyHash:  hex.EncodeToString(Keccak256(seed)),
		Inputs:       c.inputs,
		Seed:         hex.EncodeToString(deriveSeed(c.key, secret, seed, c.inputs)),
		ResolvedAt:   o.now().UTC(),
	}
	o.close(c, commitmentRevealed)
	o.remember(r)
	return r, nil
}

// Forfeited reports whether the commitment was forfeited by a bad reveal.
func (o *Oracle) Forfeited(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed[id] == commitmentForfeited
}

// Resolve derives the outcome for key from the already-locked inputs and the
// next server seed. Resolving a key that is still remembered is a
// FairnessViolation.
func (o *Oracle) Resolve(ctx context.Context, key, inputs string) (Resolution, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, done := o.resolved[key]; done {
		return Resolution{}, wager.Fairness(wager.CodeAlreadyResolved, "outcome %s already resolved", key)
	}
	if _, pending := o.byKey[key]; pending {
		return Resolution{}, wager.Fairness(wager.CodeAlreadyResolved, "outcome %s is bound to a commitment", key)
	}

	seed, err := o.takeSeed(ctx)
	if err != nil {
		return Resolution{}, err
	}
	r := Resolution{
		Key:         key,
		Entropy:     hex.EncodeToString(seed),
		EntropyHash: hex.EncodeToString(Keccak256(seed)),
		Inputs:      inputs,
		Seed:        hex.EncodeToString(deriveSeed(key, nil, seed, inputs)),
		ResolvedAt:  o.now().UTC(),
	}
	o.remember(r)
	return r, nil
}

// Lookup returns a recently recorded resolution for key.
func (o *Oracle) Lookup(key string) (Resolution, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.resolved[key]
	return r, ok
}

// Held reports how many resolutions, open commitments and closed
// commitments the oracle currently keeps in memory.
func (o *Oracle) Held() (resolved, open, closed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.resolved), len(o.pending), len(o.closed)
}
