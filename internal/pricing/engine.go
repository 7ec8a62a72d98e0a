// Package pricing calcula os preços unitários YES/NO de um evento a partir do volume de votos.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Precision é o número de casas decimais dos preços publicados
const Precision = 4

// Quote é o par de preços de um evento; Yes + No == Engine.Sum
type Quote struct {
	Yes decimal.Decimal
	No  decimal.Decimal
}

// For devolve o preço do lado informado ("yes" ou "no")
func (q Quote) For(side string) decimal.Decimal {
	if side == "yes" {
		return q.Yes
	}
	return q.No
}

// Engine implementa a curva de preço:
//
//	yes = Sum * (yesVotes + Liquidity) / (yesVotes + noVotes + 2*Liquidity)
//
// arredondado e limitado a [Min, Max]; no = Sum - yes.
// Liquidity é um volume virtual em cada lado: em (0,0) os preços ficam em Sum/2 e
// cada voto desloca menos o preço quanto maior for a liquidez.
type Engine struct {
	Sum       decimal.Decimal
	Liquidity decimal.Decimal
	Min       decimal.Decimal
	Max       decimal.Decimal
}

// Default devolve a configuração observada no produto (soma 10, preços entre 0.1 e 9.9)
func Default() Engine {
	return Engine{
		Sum:       decimal.NewFromInt(10),
		Liquidity: decimal.NewFromInt(10),
		Min:       decimal.RequireFromString("0.1"),
		Max:       decimal.RequireFromString("9.9"),
	}
}

// Validate garante que a curva é bem definida
func (e Engine) Validate() error {
	switch {
	case !e.Sum.IsPositive():
		return errors.New("pricing: sum must be positive")
	case !e.Liquidity.IsPositive():
		return errors.New("pricing: liquidity must be positive")
	case !e.Min.IsPositive() || !e.Max.GreaterThan(e.Min):
		return errors.New("pricing: need 0 < min < max")
	case !e.Max.LessThan(e.Sum):
		return errors.New("pricing: max must be below sum")
	case !e.Min.Add(e.Max).Equal(e.Sum):
		return errors.New("pricing: min + max must equal sum")
	}
	return nil
}

// Prices calcula o par de preços para os totais informados. Função pura.
// Totais negativos são tratados como zero.
func (e Engine) Prices(yesVotes, noVotes int64) Quote {
	if yesVotes < 0 {
		yesVotes = 0
	}
	if noVotes < 0 {
		noVotes = 0
	}

	y := decimal.NewFromInt(yesVotes).Add(e.Liquidity)
	total := decimal.NewFromInt(yesVotes + noVotes).Add(e.Liquidity.Mul(decimal.NewFromInt(2)))

	yes := e.Sum.Mul(y).Div(total).Round(Precision)
	if yes.LessThan(e.Min) {
		yes = e.Min
	}
	if yes.GreaterThan(e.Max) {
		yes = e.Max
	}
	return Quote{Yes: yes, No: e.Sum.Sub(yes)}
}
