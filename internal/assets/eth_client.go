package assets

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Interface ids probed through the capability-introspection standard.
var (
	uniqueInterfaceID = [4]byte{0x80, 0xac, 0x58, 0xcd} // ERC-721
	multiInterfaceID  = [4]byte{0xd9, 0xb6, 0x7a, 0x26} // ERC-1155
)

const introspectionABI = `[
  {"name":"supportsInterface","type":"function","stateMutability":"view",
   "inputs":[{"name":"interfaceId","type":"bytes4"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

const uniqueABI = `[
  {"name":"ownerOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"name":"safeTransferFrom","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},
             {"name":"tokenId","type":"uint256"}],
   "outputs":[]}
]`

const multiABI = `[
  {"name":"balanceOf","type":"function","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"},{"name":"id","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"name":"safeTransferFrom","type":"function","stateMutability":"nonpayable",
   "inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},
             {"name":"id","type":"uint256"},{"name":"amount","type":"uint256"},
             {"name":"data","type":"bytes"}],
   "outputs":[]}
]`

// EthClient settles asset transfers against on-chain contracts. The signing
// key must belong to an account the asset contracts accept as operator for
// the sellers involved.
type EthClient struct {
	client    *ethclient.Client
	chainID   *big.Int
	transacts *bind.TransactOpts

	introspection abi.ABI
	unique        abi.ABI
	multi         abi.ABI

	mu    sync.Mutex
	kinds map[common.Address]Kind
}

type EthClientConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for settlement")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	pk, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	txOpts, err := bind.NewKeyedTransactorWithChainID(pk, chainID)
	if err != nil {
		return nil, fmt.Errorf("transactor: %w", err)
	}
	txOpts.GasLimit = 0 // let node estimate
	txOpts.GasPrice = nil
	txOpts.Nonce = nil

	introspection, err := abi.JSON(strings.NewReader(introspectionABI))
	if err != nil {
		return nil, fmt.Errorf("parse introspection abi: %w", err)
	}
	unique, err := abi.JSON(strings.NewReader(uniqueABI))
	if err != nil {
		return nil, fmt.Errorf("parse unique abi: %w", err)
	}
	multi, err := abi.JSON(strings.NewReader(multiABI))
	if err != nil {
		return nil, fmt.Errorf("parse multi abi: %w", err)
	}

	return &EthClient{
		client:        cli,
		chainID:       chainID,
		transacts:     txOpts,
		introspection: introspection,
		unique:        unique,
		multi:         multi,
		kinds:         make(map[common.Address]Kind),
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (c *EthClient) bound(contract common.Address, parsed abi.ABI) *bind.BoundContract {
	return bind.NewBoundContract(contract, parsed, c.client, c.client, c.client)
}

// Probe asks the contract which transfer standard it implements. Results are
// cached per contract; a contract's standard does not change.
func (c *EthClient) Probe(ctx context.Context, contract common.Address) (Kind, error) {
	c.mu.Lock()
	if kind, ok := c.kinds[contract]; ok {
		c.mu.Unlock()
		return kind, nil
	}
	c.mu.Unlock()

	bound := c.bound(contract, c.introspection)
	opts := &bind.CallOpts{Context: ctx}

	kind := KindUnknown
	if ok, err := c.supports(bound, opts, uniqueInterfaceID); err == nil && ok {
		kind = KindUnique
	} else if ok, err := c.supports(bound, opts, multiInterfaceID); err == nil && ok {
		kind = KindMulti
	}

	if kind != KindUnknown {
		c.mu.Lock()
		c.kinds[contract] = kind
		c.mu.Unlock()
	}
	return kind, nil
}

func (c *EthClient) supports(bound *bind.BoundContract, opts *bind.CallOpts, id [4]byte) (bool, error) {
	var out []interface{}
	if err := bound.Call(opts, &out, "supportsInterface", id); err != nil {
		return false, err
	}
	if len(out) != 1 {
		return false, fmt.Errorf("unexpected supportsInterface output")
	}
	ok, _ := out[0].(bool)
	return ok, nil
}

func (c *EthClient) HolderOf(ctx context.Context, contract common.Address, tokenID *big.Int) (common.Address, error) {
	bound := c.bound(contract, c.unique)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", tokenID); err != nil {
		return common.Address{}, fmt.Errorf("ownerOf: %w", err)
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("unexpected ownerOf output")
	}
	holder, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected ownerOf output type")
	}
	return holder, nil
}

func (c *EthClient) UnitBalance(ctx context.Context, contract common.Address, holder common.Address, tokenID *big.Int) (*big.Int, error) {
	bound := c.bound(contract, c.multi)
	var out []interface{}
	if err := bound.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", holder, tokenID); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected balanceOf output")
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output type")
	}
	return bal, nil
}

func (c *EthClient) Transfer(ctx context.Context, contract common.Address, tokenID *big.Int, from, to common.Address) (string, error) {
	kind, err := c.Probe(ctx, contract)
	if err != nil {
		return "", err
	}

	opts := *c.transacts
	opts.Context = ctx

	switch kind {
	case KindUnique:
		tx, err := c.bound(contract, c.unique).Transact(&opts, "safeTransferFrom", from, to, tokenID)
		if err != nil {
			return "", fmt.Errorf("unique transfer tx: %w", err)
		}
		return tx.Hash().Hex(), nil
	case KindMulti:
		tx, err := c.bound(contract, c.multi).Transact(&opts, "safeTransferFrom", from, to, tokenID, big.NewInt(1), []byte{})
		if err != nil {
			return "", fmt.Errorf("multi transfer tx: %w", err)
		}
		return tx.Hash().Hex(), nil
	default:
		return "", fmt.Errorf("contract %s supports no recognized standard", contract.Hex())
	}
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.client.BlockNumber(ctx)
	return err
}
