package server

import (
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"rateSwap/internal/model"
	"rateSwap/internal/ratetable"
	"rateSwap/internal/swap"
	"rateSwap/internal/units"
)

const maxSwapPage = 500

type setRateBody struct {
	TokenIn   string `json:"token_in" binding:"required"`
	TokenOut  string `json:"token_out" binding:"required"`
	Numerator string `json:"numerator"`
	Exponent  uint64 `json:"exponent"`
	// Decimal is an alternative to Numerator/Exponent, e.g. "0.00002".
	Decimal string `json:"decimal"`
}

type swapBody struct {
	Caller   string `json:"caller" binding:"required"`
	TokenIn  string `json:"token_in" binding:"required"`
	TokenOut string `json:"token_out" binding:"required"`
	AmountIn string `json:"amount_in"`
	Value    string `json:"value"`
}

type approveBody struct {
	Owner  string `json:"owner" binding:"required"`
	Token  string `json:"token" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type fundBody struct {
	Account string `json:"account" binding:"required"`
	Token   string `json:"token" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

type balanceView struct {
	Token     string `json:"token"`
	Symbol    string `json:"symbol,omitempty"`
	Balance   string `json:"balance"`
	Allowance string `json:"allowance"`
}

// token accepts a hex address or, when a registry is configured, a symbol.
func (s *Server) token(ref string) (common.Address, error) {
	if s.tokens != nil {
		entry, _, err := s.tokens.Resolve(ref)
		if err != nil {
			return common.Address{}, badRequest("%s", err.Error())
		}
		return entry.Address, nil
	}
	if !common.IsHexAddress(ref) {
		return common.Address{}, badRequest("invalid token %q", ref)
	}
	return common.HexToAddress(ref), nil
}

func account(field, ref string) (common.Address, error) {
	if !common.IsHexAddress(ref) {
		return common.Address{}, badRequest("invalid %s address %q", field, ref)
	}
	return common.HexToAddress(ref), nil
}

// amount parses a base-unit decimal string; empty means absent.
func amount(field, value string) (*uint256.Int, error) {
	if value == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, badRequest("invalid %s %q: %s", field, value, err.Error())
	}
	return v, nil
}

func (s *Server) listRates(c *gin.Context) {
	entries, err := s.rates.ListRates(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ratetable.SortEntries(entries)
	out := make([]model.RateEntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.JSON())
	}
	c.JSON(http.StatusOK, gin.H{"rates": out})
}

func (s *Server) getRate(c *gin.Context) {
	in, err := s.token(c.Param("in"))
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.token(c.Param("out"))
	if err != nil {
		s.fail(c, err)
		return
	}
	rate, err := s.engine.Rate(c.Request.Context(), in, out)
	if err != nil {
		s.fail(c, err)
		return
	}
	entry := model.RateEntry{Pair: model.Pair{TokenIn: in, TokenOut: out}, Rate: rate}
	c.JSON(http.StatusOK, entry.JSON())
}

func (s *Server) setRate(c *gin.Context) {
	var body setRateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("%s", err.Error()))
		return
	}
	in, err := s.token(body.TokenIn)
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.token(body.TokenOut)
	if err != nil {
		s.fail(c, err)
		return
	}

	var rate model.Rate
	switch {
	case body.Decimal != "":
		rate, err = units.ParseRate(body.Decimal)
		if err != nil {
			s.fail(c, badRequest("%s", err.Error()))
			return
		}
	default:
		num, err := amount("numerator", body.Numerator)
		if err != nil {
			s.fail(c, err)
			return
		}
		if num == nil {
			num = new(uint256.Int)
		}
		rate = model.Rate{Numerator: num, Exponent: body.Exponent}
	}

	if err := s.rates.SetRate(c.Request.Context(), in, out, rate); err != nil {
		s.fail(c, err)
		return
	}
	entry := model.RateEntry{Pair: model.Pair{TokenIn: in, TokenOut: out}, Rate: rate}
	c.JSON(http.StatusOK, entry.JSON())
}

func (s *Server) quote(c *gin.Context) {
	in, err := s.token(c.Query("token_in"))
	if err != nil {
		s.fail(c, err)
		return
	}
	out, err := s.token(c.Query("token_out"))
	if err != nil {
		s.fail(c, err)
		return
	}
	amountIn, err := amount("amount_in", c.Query("amount_in"))
	if err != nil {
		s.fail(c, err)
		return
	}
	amountOut, err := s.engine.PreviewSwap(c.Request.Context(), in, out, amountIn)
	if err != nil {
		s.fail(c, err)
		return
	}
	if amountIn == nil {
		amountIn = new(uint256.Int)
	}
	c.JSON(http.StatusOK, gin.H{
		"token_in":   in.Hex(),
		"token_out":  out.Hex(),
		"amount_in":  amountIn.Dec(),
		"amount_out": amountOut.Dec(),
	})
}

func (s *Server) swapRequest(c *gin.Context) (swap.Request, bool) {
	var body swapBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("%s", err.Error()))
		return swap.Request{}, false
	}
	caller, err := account("caller", body.Caller)
	if err != nil {
		s.fail(c, err)
		return swap.Request{}, false
	}
	in, err := s.token(body.TokenIn)
	if err != nil {
		s.fail(c, err)
		return swap.Request{}, false
	}
	out, err := s.token(body.TokenOut)
	if err != nil {
		s.fail(c, err)
		return swap.Request{}, false
	}
	amountIn, err := amount("amount_in", body.AmountIn)
	if err != nil {
		s.fail(c, err)
		return swap.Request{}, false
	}
	value, err := amount("value", body.Value)
	if err != nil {
		s.fail(c, err)
		return swap.Request{}, false
	}
	return swap.Request{Caller: caller, TokenIn: in, TokenOut: out, AmountIn: amountIn, Value: value}, true
}

func (s *Server) checkSwap(c *gin.Context) {
	req, ok := s.swapRequest(c)
	if !ok {
		return
	}
	issues, err := s.engine.Check(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": len(issues) == 0, "issues": issues})
}

func (s *Server) submitSwap(c *gin.Context) {
	req, ok := s.swapRequest(c)
	if !ok {
		return
	}
	record, err := s.engine.Swap(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func (s *Server) listSwaps(c *gin.Context) {
	after, err := strconv.ParseUint(c.DefaultQuery("after", "0"), 10, 64)
	if err != nil {
		s.fail(c, badRequest("invalid after: %s", err.Error()))
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		s.fail(c, badRequest("invalid limit %q", c.Query("limit")))
		return
	}
	if limit > maxSwapPage {
		limit = maxSwapPage
	}
	records, err := s.ledger.SwapRecords(c.Request.Context(), after, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"swaps": records})
}

// balances reports balance and allowance to the pool, for one token or for
// every registered token when none is given.
func (s *Server) balances(c *gin.Context) {
	owner, err := account("account", c.Param("account"))
	if err != nil {
		s.fail(c, err)
		return
	}

	var list []common.Address
	if ref := c.Query("token"); ref != "" {
		token, err := s.token(ref)
		if err != nil {
			s.fail(c, err)
			return
		}
		list = append(list, token)
	} else if s.tokens != nil {
		for _, e := range s.tokens.Entries() {
			list = append(list, e.Address)
		}
	} else {
		s.fail(c, badRequest("token query parameter is required"))
		return
	}

	ctx := c.Request.Context()
	views := make([]balanceView, 0, len(list))
	for _, token := range list {
		bal, err := s.ledger.BalanceOf(ctx, owner, token)
		if err != nil {
			s.fail(c, err)
			return
		}
		allowed, err := s.ledger.Allowance(ctx, owner, s.engine.Pool(), token)
		if err != nil {
			s.fail(c, err)
			return
		}
		view := balanceView{Token: token.Hex(), Balance: bal.Dec(), Allowance: allowed.Dec()}
		if s.tokens != nil {
			if e, ok := s.tokens.Lookup(token); ok {
				view.Symbol = e.Symbol
			}
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"account": owner.Hex(), "balances": views})
}

// approve sets the owner's allowance to the pool, replacing any prior value.
func (s *Server) approve(c *gin.Context) {
	var body approveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("%s", err.Error()))
		return
	}
	owner, err := account("owner", body.Owner)
	if err != nil {
		s.fail(c, err)
		return
	}
	token, err := s.token(body.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	if model.IsNative(token) {
		s.fail(c, badRequest("native asset moves by attached value and takes no allowance"))
		return
	}
	value, err := amount("amount", body.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	if err := s.ledger.Approve(c.Request.Context(), owner, s.engine.Pool(), token, value); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"owner":   owner.Hex(),
		"spender": s.engine.Pool().Hex(),
		"token":   token.Hex(),
		"amount":  value.Dec(),
	})
}

func (s *Server) fund(c *gin.Context) {
	var body fundBody
	if err := c.ShouldBindJSON(&body); err != nil {
		s.fail(c, badRequest("%s", err.Error()))
		return
	}
	acct, err := account("account", body.Account)
	if err != nil {
		s.fail(c, err)
		return
	}
	token, err := s.token(body.Token)
	if err != nil {
		s.fail(c, err)
		return
	}
	value, err := amount("amount", body.Amount)
	if err != nil {
		s.fail(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.ledger.Credit(ctx, acct, token, value); err != nil {
		s.fail(c, err)
		return
	}
	bal, err := s.ledger.BalanceOf(ctx, acct, token)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account": acct.Hex(), "token": token.Hex(), "balance": bal.Dec()})
}
