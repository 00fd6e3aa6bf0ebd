package explain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/nice-bills/chain-segment/internal/domain"
)

const systemPrompt = "You are a witty crypto analyst."

// BuildPrompt renders the key stats for the model. Only a handful of
// features are included to keep the prompt short.
func BuildPrompt(persona string, stats map[string]float64) string {
	p := message.NewPrinter(language.English)
	return p.Sprintf(
		"You are a crypto analytics bot with a witty, slightly roasting personality. Analyze this wallet:\n"+
			"Persona: %s\n"+
			"Stats: Transactions: %d, NFT Volume (USD): $%.2f, Gas Spent (ETH): %.4f, Active Days: %d, DEX Trades: %d\n\n"+
			"Task: Write a 2-3 sentence 'Roast' or 'Insight' about this user. "+
			"Explain WHY they fit this persona based on the stats. Be specific but concise.",
		persona,
		int64(stats[domain.FeatureTxCount]),
		stats[domain.FeatureTotalNFTVolumeUSD],
		stats[domain.FeatureTotalGasSpent],
		int64(stats[domain.FeatureActiveDays]),
		int64(stats[domain.FeatureDexTrades]),
	)
}
