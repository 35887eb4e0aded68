package spot

import (
	"context"
	"strconv"

	"github.com/bschneid7/BinanceUSBot-sub004/pkg/exchanges/common"
)

// AssetBalances returns all non-zero spot balances parsed to floats. Spot has
// no position objects; reconciliation derives position truth from base-asset
// balances.
func (c *Client) AssetBalances(ctx context.Context) (map[string]common.AssetBalance, error) {
	info, err := c.GetAccountInfo(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]common.AssetBalance, len(info.Balances))
	for _, bal := range info.Balances {
		free, _ := strconv.ParseFloat(bal.Free, 64)
		locked, _ := strconv.ParseFloat(bal.Locked, 64)
		if free == 0 && locked == 0 {
			continue
		}
		out[bal.Asset] = common.AssetBalance{
			Asset:  bal.Asset,
			Free:   free,
			Locked: locked,
		}
	}
	return out, nil
}
