package netconf

import "github.com/ethereum/go-ethereum/common"

func addr(s string) common.Address { return common.HexToAddress(s) }

// Mainnet returns the Ethereum mainnet address book.
func Mainnet() *Book {
	weth := addr("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	return &Book{
		ChainID:        1,
		WrappedGasCoin: weth,
		WETH:           weth,
		USDC:           addr("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"),
		DAI:            addr("0x6B175474E89094C44Da98b954EedeAC495271d0F"),
		WBTC:           addr("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"),

		Stablecoins: map[common.Address]string{
			addr("0x6B175474E89094C44Da98b954EedeAC495271d0F"): "DAI",
			addr("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"): "USDC",
			addr("0xdAC17F958D2ee523a2206206994597C13D831ec7"): "USDT",
			addr("0x0000000000085d4780B73119b644AE5ecd22b376"): "TUSD",
			addr("0x4Fabb145d64652a948d72533023f6E7A623C7C53"): "BUSD",
			addr("0x57Ab1ec28D129707052df4dF418D58a2D46d5f51"): "sUSD",
			addr("0x056Fd409E1d7A124BD7017459dFEa2F387b6d5Cd"): "GUSD",
			addr("0x5f98805A4E8be255a32880FDeC7F6728C6568bA0"): "LUSD",
			addr("0x853d955aCEf822Db058eb8505911ED77F175b99e"): "FRAX",
			addr("0x8E870D67F660D95d5be530380D0eC0bd388289E1"): "USDP",
			addr("0x0C10bF8FcB7Bf5412187A595ab97a3609160b5c6"): "USDD",
			addr("0x674C6Ad92Fd080e4004b2312b45f796a192D27a0"): "USDN",
		},

		UniswapForks: []Fork{
			{
				Name:        "uniswap-v2",
				Factory:     addr("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
				Router:      addr("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
				DeployBlock: 10000835,
			},
			{
				Name:        "sushiswap",
				Factory:     addr("0xC0AEe478e3658e2610c5F7A4A2E1777cE9e4f2Ac"),
				Router:      addr("0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"),
				DeployBlock: 10794229,
			},
			{
				Name:        "shibaswap",
				Factory:     addr("0x115934131916C8b277DD010Ee02de363c09d037c"),
				Router:      addr("0x03f7724180AA6b939894B5Ca4314783B0b36b329"),
				DeployBlock: 12771526,
			},
		},

		BalancerV1ExchangeProxy: addr("0x3E66B66Fd1d0b02fDa6C811Da9E0547970DB2f21"),
		BalancerV2Vaults: []Vault{
			{Address: addr("0xBA12222222228d8Ba445958a75a0704d566BF2C8"), DeployBlock: 12272146},
		},

		CurveAddressProvider: addr("0x0000000022D53366457F9d5E68Ec105046FC4383"),

		ChainlinkFeeds: map[common.Address]common.Address{
			// asset -> USD aggregator
			weth: addr("0x5f4eC3Df9cbd43714FE2740f5E3616155c5b8419"),
			addr("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599"): addr("0xF4030086522a5bEEa4988F8cA5B36dbC97BeE88c"),
			addr("0x514910771AF9Ca656af840dff83E8264EcF986CA"): addr("0x2c1d072e956AFFC0D435Cb7AC38EF18d24d9127c"),
			addr("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"): addr("0x547a514d5e3769680Ce22B2361c10Ea13619e8a9"),
			addr("0x0bc529c00C6401aEF6D220BE8C6Ea1667F6Ad93e"): addr("0xA027702dbb89fbd58938e4324ac03B58d812b0E1"),
			addr("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"): addr("0x553303d460EE0afB37EdFf9bE42922D8FF63220e"),
			addr("0xc00e94Cb662C3520282E6f5717214004A7f26888"): addr("0xdbd020CAeF83eFd542f4De03e3cF0C28A4428bd5"),
			addr("0x9f8F72aA9304c8B593d555F12eF6589cC3A579A2"): addr("0xec1D1B3b0443256cc3860e24a46F108e699484Aa"),
			addr("0xD533a949740bb3306d119CC777fa900bA034cd52"): addr("0xCd627aA160A6fA45Eb793D19Ef54f5062F20f33f"),
		},
		ChainlinkRegistry:            addr("0x47Fb2585D2C56Fe188D0E6ec628a38b74fCeeeDf"),
		ChainlinkRegistryDeployBlock: 12864088,

		SynthetixExchangeRates: addr("0xd69b189020EF614796578AfE4d10378c5e7e1138"),

		Comptrollers: []common.Address{
			addr("0x3d9819210A31b4961b30EF54bE2aeD79B9c9Cd3B"), // compound
			addr("0x3d5BC3c8d13dcB8bF9EB84f6B04594D2644ca3F8"), // cream
			addr("0xAB1c342C7bf5Ec5F02ADEA1c2270670bCa144CbB"), // iron bank
		},

		ConvexBooster:    addr("0xF403C135812408BFbE8713b5A23a04b3D48AAE31"),
		GearboxRegister:  addr("0xA50d4E7D8946a7c90652339CDBd262c375d54D99"),
		MooniswapFactory: addr("0x71CD6666064C3A1354a3B4dca5fA1E2D3ee7D303"),
		PendleOracle:     addr("0x9a9Fa8338dd5E5B2188006f1Cd2Ef26d921650C2"),

		KP3R:   addr("0x1cEB5cB57C4D4E2b2433641b95Dd330A33185A44"),
		RKP3R:  addr("0xEdB67Ee1B171c4eC66E6c10EC43EDBbA20FaE8e9"),
		WstETH: addr("0x7f39C581F595B53c5cb19bD0b3f8dA6c935E2Ca0"),
		StETH:  addr("0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84"),
		CrETH2: addr("0xcBc1065255cBc3aB41a6868c22d1f1C573AB89fd"),

		OneToOne: map[common.Address]common.Address{
			// stkAAVE -> AAVE
			addr("0x4da27a545c0c5B758a6BA100e3a049001de870f5"): addr("0x7Fc66500c84A76Ad7e9c93437bFc5Ac33E2DDaE9"),
			// wCRES -> CRES omitted; the table grows per support request
		},

		SaddleLPs: map[common.Address]common.Address{
			// saddle D4 LP -> swap
			addr("0xd48cF4D7FB0824CC8bAe055dF3092584d0a1726A"): addr("0xC69DDcd4DFeF25D8a793241834d4cc4b3668EAD6"),
		},

		LegacyPools: map[common.Address]string{},
	}
}
