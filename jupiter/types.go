package jupiter

// Well-known mints.
const (
	WSOLMint = "So11111111111111111111111111111111111111112"
	USDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

// Quote is the /quote response. The struct is forwarded verbatim to /swap, so
// it keeps every field the aggregator sends.
type Quote struct {
	InputMint            string      `json:"inputMint"`
	InAmount             string      `json:"inAmount"`
	OutputMint           string      `json:"outputMint"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PlatformFee          interface{} `json:"platformFee"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RouteStep `json:"routePlan"`
	ContextSlot          uint64      `json:"contextSlot"`
	TimeTaken            float64     `json:"timeTaken"`
}

// RouteStep is one hop of the routed swap.
type RouteStep struct {
	SwapInfo struct {
		AmmKey     string `json:"ammKey"`
		Label      string `json:"label"`
		InputMint  string `json:"inputMint"`
		OutputMint string `json:"outputMint"`
		InAmount   string `json:"inAmount"`
		OutAmount  string `json:"outAmount"`
		FeeAmount  string `json:"feeAmount"`
		FeeMint    string `json:"feeMint"`
	} `json:"swapInfo"`
	Percent int `json:"percent"`
}

// swapRequest is the /swap request body.
type swapRequest struct {
	QuoteResponse             *Quote      `json:"quoteResponse"`
	UserPublicKey             string      `json:"userPublicKey"`
	WrapAndUnwrapSol          bool        `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool        `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports interface{} `json:"prioritizationFeeLamports,omitempty"`
}

// SwapResponse is the /swap response; SwapTransaction is a base64
// serialized unsigned versioned transaction.
type SwapResponse struct {
	SwapTransaction           string `json:"swapTransaction"`
	LastValidBlockHeight      uint64 `json:"lastValidBlockHeight"`
	PrioritizationFeeLamports uint64 `json:"prioritizationFeeLamports"`
}

// priceResponse is the price API v2 envelope.
type priceResponse struct {
	Data map[string]struct {
		ID    string `json:"id"`
		Type  string `json:"type"`
		Price string `json:"price"`
	} `json:"data"`
}

type apiError struct {
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}
