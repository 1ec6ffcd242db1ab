package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/justbytes/evmsniper/config"
)

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// knownChain pre-fills the factory and router addresses for common networks.
type knownChain struct {
	chainID    uint64
	baseTokens []string
	v2Factory  string
	v2Router   string
	v3Factory  string
	v3Router   string
}

var knownChains = map[string]knownChain{
	"ethereum": {
		chainID: 1,
		baseTokens: []string{
			"0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", // WETH
			"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
			"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
		},
		v2Factory: "0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f",
		v2Router:  "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		v3Factory: "0x1F98431c8aD98523631AE4a59f267346ea31F984",
		v3Router:  "0xE592427A0AEce92De3Edee1F18E0157C05861564",
	},
	"base": {
		chainID: 8453,
		baseTokens: []string{
			"0x4200000000000000000000000000000000000006", // WETH
			"0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", // USDC
		},
		v2Factory: "0x8909Dc15e40173Ff4699343b6eB8132c65e18eC6",
		v2Router:  "0x4752ba5DBc23f44D87826276BF6Fd6b1C372aD24",
		v3Factory: "0x33128a8fC17869897dcE68Ed026d694621f6FDfD",
		v3Router:  "0x2626664c2603336E57B271c5C0b26F421741e481",
	},
	"bsc": {
		chainID: 56,
		baseTokens: []string{
			"0xbb4CdB9CBd36B01bD1cBaEBF2De08d9173bc095c", // WBNB
			"0x55d398326f99059fF775485246999027B3197955", // USDT
		},
		v2Factory: "0xcA143Ce32Fe78f1f7019d7d551a6402fC5350c73",
		v2Router:  "0x10ED43C718714eb63d5aA57B78B54704E256024E",
		v3Factory: "0xdB1d10011AD0Ff90774D0C6Bb92e5C5c8b4461F7",
		v3Router:  "0x13f4EA83D0bd40E75C8222255bc855a974568Dd4",
	},
}

// RunTUI launches the terminal configuration wizard and writes
// config.gen.yaml on confirmation.
func RunTUI() error {
	var (
		chainName string
		wsURL     string
		versions  []string
		apiKey    string
		buyAmount string
		target    string
		stopLoss  string
		slippage  string
		confirm   bool
	)

	// defaults
	buyAmount = "10000000000000000"
	target = "2"
	stopLoss = "0.5"
	slippage = "2"
	versions = []string{"v2", "v3"}

	// step 1: welcome + chain
	fmt.Print("\033[H\033[2J") // Clear screen
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Point it at a chain and let it watch the factories.\n"))

	fmt.Println(stepStyle.Render("STEP 1: CHAIN"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Choose the chain to snipe on").
				Options(
					huh.NewOption("Ethereum", "ethereum"),
					huh.NewOption("Base", "base"),
					huh.NewOption("BNB Smart Chain", "bsc"),
				).
				Value(&chainName),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 2: node endpoint
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 2: NODE"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Websocket RPC URL").
				Description("Must support eth_subscribe (e.g. wss://...)").
				Value(&wsURL).
				Validate(func(s string) error {
					if s == "" {
						return fmt.Errorf("ws url cannot be empty")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 3: protocols
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 3: PROTOCOLS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewMultiSelect[string]().
				Title("Factories to watch").
				Options(
					huh.NewOption("Uniswap v2 style pairs", "v2").Selected(true),
					huh.NewOption("Uniswap v3 style pools", "v3").Selected(true),
				).
				Value(&versions).
				Validate(func(selected []string) error {
					if len(selected) == 0 {
						return fmt.Errorf("pick at least one protocol")
					}
					return nil
				}),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 4: security screening
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 4: SCREENING"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Security API Key").
				Description("Leave empty for anonymous access (lower rate limits)").
				Value(&apiKey).
				EchoMode(huh.EchoModePassword),
		),
	).Run()
	if err != nil {
		return err
	}

	// step 5: trade parameters
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("STEP 5: TRADE SETTINGS"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Buy amount (wei of base token)").
				Value(&buyAmount),
			huh.NewInput().
				Title("Take profit multiplier").
				Description("Sell when price reaches entry * multiplier (e.g. 2)").
				Value(&target).
				Validate(validateAbove(decimal.NewFromInt(1))),
			huh.NewInput().
				Title("Stop loss multiplier").
				Description("Sell when price falls to entry * multiplier (e.g. 0.5)").
				Value(&stopLoss).
				Validate(validateFraction),
			huh.NewInput().
				Title("Slippage %").
				Value(&slippage).
				Validate(validateAbove(decimal.NewFromInt(-1))),
		),
	).Run()
	if err != nil {
		return err
	}

	// confirmation
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("EVMSNIPER CONFIG WIZARD"))
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Chain: %s\nNode: %s\nProtocols: %v\nBuy: %s wei\nTarget: x%s  Stop: x%s  Slippage: %s%%\n",
		chainName, wsURL, versions, buyAmount, target, stopLoss, slippage,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return err
	}

	if !confirm {
		return fmt.Errorf("setup cancelled by user")
	}

	cfg, err := buildConfig(chainName, wsURL, versions, apiKey, buyAmount, target, stopLoss, slippage)
	if err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to generate yaml: %w", err)
	}

	filename := "config.gen.yaml"
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to save config file: %w", err)
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting sniper...", filename)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return nil
}

func buildConfig(chainName, wsURL string, versions []string, apiKey, buyAmount, target, stopLoss, slippage string) (config.ConfigTmp, error) {
	known, ok := knownChains[chainName]
	if !ok {
		return config.ConfigTmp{}, fmt.Errorf("unknown chain %q", chainName)
	}

	chain := config.ChainTmp{
		Name:       chainName,
		ChainID:    known.chainID,
		WsURL:      wsURL,
		BaseTokens: known.baseTokens,
	}
	for _, v := range versions {
		switch v {
		case "v2":
			if common.IsHexAddress(known.v2Factory) {
				chain.Factories = append(chain.Factories, config.FactoryTmp{
					Version: "v2", Factory: known.v2Factory, Router: known.v2Router,
				})
			}
		case "v3":
			if common.IsHexAddress(known.v3Factory) {
				chain.Factories = append(chain.Factories, config.FactoryTmp{
					Version: "v3", Factory: known.v3Factory, Router: known.v3Router,
				})
			}
		}
	}

	cfg := config.ConfigTmp{
		WebAddr: ":8080",
	}
	cfg.Audit.APIKey = apiKey
	cfg.Trade.BuyAmountWei = buyAmount
	cfg.Trade.TargetMultiplier = target
	cfg.Trade.StopLossMultiplier = stopLoss
	cfg.Trade.SlippagePercent = slippage
	cfg.Chains = append(cfg.Chains, chain)
	return cfg, nil
}

func validateAbove(min decimal.Decimal) func(string) error {
	return func(s string) error {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("must be a valid number")
		}
		if d.LessThanOrEqual(min) {
			return fmt.Errorf("must be greater than %s", min.String())
		}
		return nil
	}
}

func validateFraction(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("must be a valid number")
	}
	if d.LessThanOrEqual(decimal.Zero) || d.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("must be between 0 and 1")
	}
	return nil
}
