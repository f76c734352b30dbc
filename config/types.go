package config

// Ethereum captures the source-chain RPC and contract coordinates.
type Ethereum struct {
	RPC      string `toml:"RPC"`
	ChainID  int64  `toml:"ChainID"`
	USDC     string `toml:"USDC"`
	XReserve string `toml:"XReserve"`
	Explorer string `toml:"Explorer"`
	Faucet   string `toml:"Faucet"`
	// ENSRPC points at a mainnet endpoint; ENS names only live there.
	ENSRPC      string `toml:"ENSRPC"`
	ENSRegistry string `toml:"ENSRegistry"`
	Keystore    string `toml:"Keystore"`
	// PassphraseEnv names the variable holding the keystore passphrase.
	PassphraseEnv string `toml:"PassphraseEnv"`
}

// Stacks captures the Hiro API and USDCx contract coordinates.
type Stacks struct {
	API           string  `toml:"API"`
	Explorer      string  `toml:"Explorer"`
	Faucet        string  `toml:"Faucet"`
	Network       string  `toml:"Network"`
	Deployer      string  `toml:"Deployer"`
	TokenContract string  `toml:"TokenContract"`
	BridgeName    string  `toml:"BridgeName"`
	TokenName     string  `toml:"TokenName"`
	RatePerSecond float64 `toml:"RatePerSecond"`
	RateBurst     int     `toml:"RateBurst"`
	// KeyEnv names the variable holding a hex private key for non-interactive burns.
	KeyEnv string `toml:"KeyEnv"`
}

// Bridge holds the domain ids and user-facing limits.
type Bridge struct {
	StacksDomain       uint32 `toml:"StacksDomain"`
	EthereumDomain     uint32 `toml:"EthereumDomain"`
	MinDeposit         string `toml:"MinDeposit"`
	MinWithdraw        string `toml:"MinWithdraw"`
	DepositETAMinutes  int    `toml:"DepositETAMinutes"`
	WithdrawETAMinutes int    `toml:"WithdrawETAMinutes"`
	PayBaseURL         string `toml:"PayBaseURL"`
	TrackBaseURL       string `toml:"TrackBaseURL"`
}

// Tracker tunes the polling loop. Durations are in seconds except SettleMs.
type Tracker struct {
	PollSeconds    int    `toml:"PollSeconds"`
	ElapsedSeconds int    `toml:"ElapsedSeconds"`
	SettleMs       int    `toml:"SettleMs"`
	EventLimit     int    `toml:"EventLimit"`
	BlockWindow    uint64 `toml:"BlockWindow"`
}

// Storage points at the on-disk state of the daemon and CLI.
type Storage struct {
	WalletDB       string `toml:"WalletDB"`
	NameCacheDir   string `toml:"NameCacheDir"`
	NameCacheTTL   int    `toml:"NameCacheTTLSeconds"`
	LedgerDSN      string `toml:"LedgerDSN"`
	IdempotencyDSN string `toml:"IdempotencyDSN"`
}

// Logging selects level and optional rotating file output.
type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
}
