package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ntauth/fracrank"
)

type rankHandler struct {
	gen *fracrank.Generator
}

func registerRankAPI(g *echo.Group, gen *fracrank.Generator) {
	h := &rankHandler{gen: gen}
	ranks := g.Group("/ranks")
	ranks.GET("/between", h.between)
	ranks.GET("/last", h.last)
}

type (
	betweenRequest struct {
		Prev string `query:"prev"`
		Next string `query:"next"`
	}

	lastRequest struct {
		Last string `query:"last"`
	}

	rankResponse struct {
		Rank string `json:"rank"`
	}
)

func (h *rankHandler) between(c echo.Context) error {
	var req betweenRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	rank, err := h.gen.KeyBetween(req.Prev, req.Next)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rankResponse{Rank: rank})
}

func (h *rankHandler) last(c echo.Context) error {
	var req lastRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	rank, err := h.gen.KeyForLast(req.Last)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rankResponse{Rank: rank})
}
