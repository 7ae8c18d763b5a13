package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gopkg.in/yaml.v3"

	"nhbmarket/config"
	"nhbmarket/core/state"
	"nhbmarket/crypto"
	"nhbmarket/native/market"
	nhbotel "nhbmarket/observability/otel"
)

// Script is a scenario replayed against a fresh market: genesis balances and
// items followed by engine operations.
type Script struct {
	Accounts map[string]string `yaml:"accounts"`
	Genesis  Genesis           `yaml:"genesis"`
	Steps    []Step            `yaml:"steps"`
}

// Genesis seeds state before the first step. Every funded account approves the
// engine for its whole balance and every minted owner approves the engine as
// item operator.
type Genesis struct {
	Balances map[string]string `yaml:"balances"`
	Mileage  map[string]string `yaml:"mileage"`
	Items    []GenesisItem     `yaml:"items"`
}

// GenesisItem registers an item contract. Whitelisted defaults to true.
type GenesisItem struct {
	Name            string            `yaml:"name"`
	Address         string            `yaml:"address"`
	Standard        string            `yaml:"standard"`
	Category        uint64            `yaml:"category"`
	Whitelisted     *bool             `yaml:"whitelisted"`
	Banned          bool              `yaml:"banned"`
	MileageMode     bool              `yaml:"mileageMode"`
	Premium         bool              `yaml:"premium"`
	RoyaltyReceiver string            `yaml:"royaltyReceiver"`
	RoyaltyBps      uint32            `yaml:"royaltyBps"`
	Exceptional     []ExceptionalRate `yaml:"exceptional"`
	Mint            []GenesisMint     `yaml:"mint"`
}

type ExceptionalRate struct {
	Token string `yaml:"token"`
	Bps   uint32 `yaml:"bps"`
}

type GenesisMint struct {
	To     string `yaml:"to"`
	Token  string `yaml:"token"`
	Amount uint64 `yaml:"amount"`
}

// Step is one engine operation. Only the fields used by Op are read.
type Step struct {
	Op     string `yaml:"op"`
	Caller string `yaml:"caller"`
	Height uint64 `yaml:"height"`
	Expect string `yaml:"expect"`
	Save   string `yaml:"save"`

	Category uint64   `yaml:"category"`
	Item     string   `yaml:"item"`
	Token    string   `yaml:"token"`
	Amount   uint64   `yaml:"amount"`
	Price    string   `yaml:"price"`
	Partial  bool     `yaml:"partial"`
	Pledge   string   `yaml:"pledge"`
	EndBlock uint64   `yaml:"endBlock"`
	VID      string   `yaml:"vid"`
	VIDs     []string `yaml:"vids"`
	Amounts  []uint64 `yaml:"amounts"`
	Prices   []string `yaml:"prices"`
	Pledges  []string `yaml:"pledges"`
	Tokens   []string `yaml:"tokens"`
	Account  string   `yaml:"account"`
	Bps      uint32   `yaml:"bps"`
	Premium  uint32   `yaml:"premiumBps"`
	Blocks   uint64   `yaml:"blocks"`
}

// LoadScript reads a YAML scenario from disk.
func LoadScript(path string) (*Script, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	var script Script
	if err := dec.Decode(&script); err != nil {
		return nil, fmt.Errorf("decode script: %w", err)
	}
	return &script, nil
}

// StepResult reports how one step ended.
type StepResult struct {
	Index  int
	Op     string
	Height uint64
	Kind   market.Kind
	Err    error
}

// runner resolves names used by a script and applies its steps to a node.
type runner struct {
	n     *node
	names map[string][20]byte
	vids  map[string]market.VerificationID
}

func newRunner(n *node, script *Script) (*runner, error) {
	r := &runner{n: n, names: make(map[string][20]byte), vids: make(map[string]market.VerificationID)}
	r.names["engine"] = n.engine.Address()
	r.names["owner"] = n.cfg.Market.Owner.Array()
	r.names["feeReceiver"] = n.cfg.Market.FeeReceiver.Array()
	r.names["pool"] = n.cfg.Market.MileagePool.Array()
	for name, raw := range script.Accounts {
		if strings.TrimSpace(raw) == "" {
			r.names[name] = config.DerivedAccount(name).Array()
			continue
		}
		addr, err := crypto.ParseAccount(raw)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", name, err)
		}
		r.names[name] = addr.Array()
	}
	return r, nil
}

// account resolves a named, bech32 or hex account. Unknown names derive a
// deterministic address so scripts need not declare every participant.
func (r *runner) account(name string) ([20]byte, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return [20]byte{}, fmt.Errorf("account name required")
	}
	if addr, ok := r.names[name]; ok {
		return addr, nil
	}
	if addr, err := crypto.ParseAccount(name); err == nil {
		return addr.Array(), nil
	}
	addr := config.DerivedAccount(name).Array()
	r.names[name] = addr
	return addr, nil
}

func (r *runner) item(name string) ([20]byte, error) {
	if addr, ok := r.names["item:"+name]; ok {
		return addr, nil
	}
	return r.account(name)
}

func (r *runner) genesis(g Genesis) error {
	mgr := r.n.state
	engine := r.n.engine.Address()
	for _, name := range sortedKeys(g.Balances) {
		account, err := r.account(name)
		if err != nil {
			return err
		}
		amount, err := parseAmount(g.Balances[name])
		if err != nil {
			return fmt.Errorf("balance %s: %w", name, err)
		}
		if err := mgr.Mint(account, amount); err != nil {
			return fmt.Errorf("mint %s: %w", name, err)
		}
		if err := mgr.Approve(account, engine, amount); err != nil {
			return fmt.Errorf("approve %s: %w", name, err)
		}
	}
	for _, item := range g.Items {
		if err := r.registerItem(item); err != nil {
			return fmt.Errorf("item %s: %w", item.Name, err)
		}
	}
	for _, name := range sortedKeys(g.Mileage) {
		account, err := r.account(name)
		if err != nil {
			return err
		}
		amount, err := parseAmount(g.Mileage[name])
		if err != nil {
			return fmt.Errorf("mileage %s: %w", name, err)
		}
		if err := r.n.mileage.Credit(engine, account, amount); err != nil {
			return fmt.Errorf("mileage %s: %w", name, err)
		}
	}
	r.n.state.Commit(0)
	return nil
}

func (r *runner) registerItem(item GenesisItem) error {
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("name required")
	}
	addr := config.DerivedAccount("item/" + item.Name).Array()
	if item.Address != "" {
		parsed, err := crypto.ParseAccount(item.Address)
		if err != nil {
			return err
		}
		addr = parsed.Array()
	}
	r.names["item:"+item.Name] = addr

	cfg := state.ItemConfig{
		Category:    item.Category,
		Whitelisted: item.Whitelisted == nil || *item.Whitelisted,
		Banned:      item.Banned,
		MileageMode: item.MileageMode,
		Premium:     item.Premium,
		RoyaltyBps:  item.RoyaltyBps,
	}
	switch strings.ToLower(item.Standard) {
	case "", "erc721":
		cfg.Standard = uint8(market.StandardERC721)
	case "erc1155":
		cfg.Standard = uint8(market.StandardERC1155)
	default:
		return fmt.Errorf("unknown standard %q", item.Standard)
	}
	if item.RoyaltyReceiver != "" {
		receiver, err := r.account(item.RoyaltyReceiver)
		if err != nil {
			return err
		}
		cfg.RoyaltyReceiver = receiver
	}
	if err := r.n.state.RegisterItem(addr, cfg); err != nil {
		return err
	}
	for _, rate := range item.Exceptional {
		token, err := parseToken(rate.Token)
		if err != nil {
			return err
		}
		if err := r.n.state.SetExceptionalRoyalty(addr, token, rate.Bps); err != nil {
			return err
		}
	}
	for _, mint := range item.Mint {
		to, err := r.account(mint.To)
		if err != nil {
			return err
		}
		token, err := parseToken(mint.Token)
		if err != nil {
			return err
		}
		amount := mint.Amount
		if amount == 0 {
			amount = 1
		}
		if err := r.n.state.MintItem(addr, to, token, amount); err != nil {
			return err
		}
		if err := r.n.state.SetApprovalForAll(addr, to, r.n.engine.Address(), true); err != nil {
			return err
		}
	}
	return nil
}

// run applies every step in order. A step whose outcome differs from its
// expectation aborts the run.
func (r *runner) run(ctx context.Context, steps []Step) ([]StepResult, error) {
	tracer := nhbotel.Tracer("nhbmarket/marketd")
	results := make([]StepResult, 0, len(steps))
	for i, step := range steps {
		_, span := tracer.Start(ctx, "market."+step.Op)
		span.SetAttributes(
			attribute.Int("step", i),
			attribute.Int64("height", int64(step.Height)),
			attribute.String("caller", step.Caller),
		)
		r.n.setHeight(step.Height)
		err := r.apply(step)
		res := StepResult{Index: i, Op: step.Op, Height: r.n.currentHeight(), Err: err}
		if err != nil {
			res.Kind = market.KindOf(err)
			span.SetAttributes(attribute.String("kind", res.Kind.String()))
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		results = append(results, res)
		if mismatch := checkExpectation(step, err); mismatch != nil {
			return results, fmt.Errorf("step %d (%s): %w", i, step.Op, mismatch)
		}
	}
	return results, nil
}

func checkExpectation(step Step, err error) error {
	want := strings.ToLower(strings.TrimSpace(step.Expect))
	switch {
	case want == "" && err != nil:
		return fmt.Errorf("unexpected error: %w", err)
	case want == "":
		return nil
	case err == nil:
		return fmt.Errorf("expected %s error, operation succeeded", want)
	case market.KindOf(err).String() != want:
		return fmt.Errorf("expected %s error, got %s: %w", want, market.KindOf(err), err)
	default:
		return nil
	}
}

func (r *runner) apply(step Step) error {
	n := r.n
	n.mu.Lock()
	defer n.mu.Unlock()

	caller, err := r.account(step.Caller)
	if err != nil {
		return err
	}
	e := n.engine
	switch step.Op {
	case "sell", "makeOffer":
		item, token, err := r.key(step.Item, step.Token)
		if err != nil {
			return err
		}
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		var vid market.VerificationID
		if step.Op == "sell" {
			vid, err = e.Sell(caller, step.Category, item, token, step.Amount, price, step.Partial)
		} else {
			var pledge *big.Int
			if pledge, err = parseOptional(step.Pledge); err != nil {
				return err
			}
			vid, err = e.MakeOffer(caller, step.Category, item, token, step.Amount, price, step.Partial, pledge)
		}
		if err != nil {
			return err
		}
		if step.Save != "" {
			r.vids[step.Save] = vid
		}
		return nil
	case "changePrice":
		vid, err := r.vid(step.VID)
		if err != nil {
			return err
		}
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		return e.ChangeSellPrice(caller, vid, price)
	case "cancelSale", "cancelSaleByOwner", "cancelOfferByOwner":
		vids, err := r.vidList(step)
		if err != nil {
			return err
		}
		switch step.Op {
		case "cancelSale":
			return e.CancelSale(caller, vids)
		case "cancelSaleByOwner":
			return e.CancelSaleByOwner(caller, vids)
		default:
			return e.CancelOfferByOwner(caller, vids)
		}
	case "cancelOffer":
		vid, err := r.vid(step.VID)
		if err != nil {
			return err
		}
		return e.CancelOffer(caller, vid)
	case "acceptOffer":
		vid, err := r.vid(step.VID)
		if err != nil {
			return err
		}
		return e.AcceptOffer(caller, vid, step.Amount)
	case "buy":
		return r.buy(caller, step)
	case "createAuction":
		item, token, err := r.key(step.Item, step.Token)
		if err != nil {
			return err
		}
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		return e.CreateAuction(caller, item, token, step.Amount, price, step.EndBlock)
	case "bid":
		item, token, err := r.key(step.Item, step.Token)
		if err != nil {
			return err
		}
		price, err := parseAmount(step.Price)
		if err != nil {
			return err
		}
		pledge, err := parseOptional(step.Pledge)
		if err != nil {
			return err
		}
		return e.Bid(caller, item, token, price, pledge)
	case "claim", "cancelAuction":
		item, token, err := r.key(step.Item, step.Token)
		if err != nil {
			return err
		}
		if step.Op == "claim" {
			return e.Claim(caller, item, token)
		}
		return e.CancelAuction(caller, item, token)
	case "cancelAuctionByOwner":
		item, err := r.item(step.Item)
		if err != nil {
			return err
		}
		keys := make([]market.ItemKey, 0, len(step.Tokens))
		for _, raw := range step.Tokens {
			token, err := parseToken(raw)
			if err != nil {
				return err
			}
			keys = append(keys, market.ItemKey{Item: item, TokenID: token})
		}
		return e.CancelAuctionByOwner(caller, keys)
	case "setFee":
		return e.SetFee(caller, step.Bps)
	case "setMileageRates":
		return e.SetMileageRates(caller, step.Bps, step.Premium)
	case "setExtensionInterval":
		return e.SetAuctionExtensionInterval(caller, step.Blocks)
	case "setFeeReceiver", "setMileagePool", "ban", "unban", "transferOwnership":
		account, err := r.account(step.Account)
		if err != nil {
			return err
		}
		switch step.Op {
		case "setFeeReceiver":
			return e.SetFeeReceiver(caller, account)
		case "setMileagePool":
			return e.SetMileagePool(caller, account)
		case "ban":
			return e.BanUser(caller, account)
		case "unban":
			return e.UnbanUser(caller, account)
		default:
			return e.TransferOwnership(caller, account)
		}
	case "pause":
		return e.Pause(caller)
	case "resume":
		return e.Resume(caller)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
}

func (r *runner) buy(caller [20]byte, step Step) error {
	vids, err := r.vidList(step)
	if err != nil {
		return err
	}
	amounts := step.Amounts
	if len(amounts) == 0 && step.Amount > 0 {
		amounts = []uint64{step.Amount}
	}
	rawPrices := step.Prices
	if len(rawPrices) == 0 && step.Price != "" {
		rawPrices = []string{step.Price}
	}
	rawPledges := step.Pledges
	if len(rawPledges) == 0 {
		rawPledges = make([]string, len(vids))
		if len(vids) == 1 {
			rawPledges[0] = step.Pledge
		}
	}
	prices := make([]*big.Int, len(rawPrices))
	for i, raw := range rawPrices {
		if prices[i], err = parseAmount(raw); err != nil {
			return err
		}
	}
	pledges := make([]*big.Int, len(rawPledges))
	for i, raw := range rawPledges {
		if pledges[i], err = parseOptional(raw); err != nil {
			return err
		}
	}
	return r.n.engine.Buy(caller, vids, amounts, prices, pledges)
}

func (r *runner) key(itemName, rawToken string) ([20]byte, market.TokenID, error) {
	item, err := r.item(itemName)
	if err != nil {
		return [20]byte{}, market.TokenID{}, err
	}
	token, err := parseToken(rawToken)
	return item, token, err
}

func (r *runner) vid(ref string) (market.VerificationID, error) {
	ref = strings.TrimSpace(ref)
	if saved, ok := r.vids[strings.TrimPrefix(ref, "$")]; ok {
		return saved, nil
	}
	return market.ParseVerificationID(ref)
}

func (r *runner) vidList(step Step) ([]market.VerificationID, error) {
	refs := step.VIDs
	if len(refs) == 0 && step.VID != "" {
		refs = []string{step.VID}
	}
	vids := make([]market.VerificationID, 0, len(refs))
	for _, ref := range refs {
		vid, err := r.vid(ref)
		if err != nil {
			return nil, err
		}
		vids = append(vids, vid)
	}
	return vids, nil
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	return value, nil
}

func parseOptional(raw string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return big.NewInt(0), nil
	}
	return parseAmount(raw)
}

func parseToken(raw string) (market.TokenID, error) {
	raw = strings.TrimSpace(raw)
	var (
		value *uint256.Int
		err   error
	)
	if strings.HasPrefix(raw, "0x") {
		value, err = uint256.FromHex(raw)
	} else {
		value, err = uint256.FromDecimal(raw)
	}
	if err != nil {
		return market.TokenID{}, fmt.Errorf("invalid token id %q: %w", raw, err)
	}
	return *value, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
