package trading

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/signaltrader/signal"
)

// Reason templates use {entry}, {exit}, {target}, {stop} and {minutes}.
var reasonPools = map[Outcome]map[signal.Direction][]string{
	TakeProfit: {
		signal.Long: {
			"Buyers held the breakout above {entry} and price pushed into the {target} target zone, closing at {exit} after {minutes} minutes.",
			"Momentum stayed bullish from {entry}; the take-profit filled near {exit} as volume picked up.",
			"Price respected support and rallied to {exit}. Profit locked in after {minutes} minutes in the trade.",
			"Higher lows kept forming above {entry} and the move extended to {exit} without threatening the {stop} stop.",
		},
		signal.Short: {
			"Sellers defended the {entry} area and price slid toward the {target} target, closing at {exit} after {minutes} minutes.",
			"Bearish pressure built below {entry}; the take-profit filled near {exit} as bids thinned out.",
			"The rejection at resistance played out and price dropped to {exit}. Profit locked in after {minutes} minutes.",
			"Lower highs capped every bounce under {entry} and the decline reached {exit} well clear of the {stop} stop.",
		},
	},
	StopLoss: {
		signal.Long: {
			"Support at {entry} gave way and price fell to {exit}, triggering the stop after {minutes} minutes.",
			"The breakout failed to hold; sellers pushed price back to {exit} and the stop near {stop} limited the loss.",
			"Buying volume dried up after entry at {entry} and the position was stopped out at {exit}.",
			"A sharp wick lower took out the stop zone around {stop}; the trade closed at {exit} after {minutes} minutes.",
		},
		signal.Short: {
			"Resistance at {entry} broke and price squeezed up to {exit}, triggering the stop after {minutes} minutes.",
			"Short sellers ran out of steam; a rebound to {exit} hit the stop placed near {stop}.",
			"Buyers stepped in above {entry} and the position was stopped out at {exit}.",
			"A fast squeeze through the {stop} area closed the trade at {exit} after {minutes} minutes.",
		},
	},
}

// pickReason selects and fills a template for the outcome and direction of
// pos. rng must only be used under the manager lock.
func pickReason(rng *rand.Rand, o Outcome, pos Position, exit float64, closedAt time.Time) string {
	pool := reasonPools[o][pos.Signal.Direction]
	if len(pool) == 0 {
		return string(o)
	}
	tmpl := pool[rng.Intn(len(pool))]

	minutes := int(closedAt.Sub(pos.OpenedAt) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	r := strings.NewReplacer(
		"{entry}", formatPrice(pos.Signal.EntryPrice),
		"{exit}", formatPrice(exit),
		"{target}", formatPrice(pos.Signal.TargetPrice),
		"{stop}", formatPrice(pos.Signal.StopLoss),
		"{minutes}", strconv.Itoa(minutes),
	)
	return r.Replace(tmpl)
}

func formatPrice(p float64) string {
	if p < 1 {
		return fmt.Sprintf("%.6f", p)
	}
	return fmt.Sprintf("%.2f", p)
}
