package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ntauth/fracrank/internal/domain"
	"github.com/ntauth/fracrank/internal/ordering"
)

type orderingHandler struct {
	svc *ordering.Service
}

func registerOrderingAPI(g *echo.Group, svc *ordering.Service) {
	h := &orderingHandler{svc: svc}

	coll := g.Group("/collections/:kind/:parent")
	coll.GET("/items", h.list)
	coll.POST("/items", h.add)
	coll.POST("/items/batch", h.addBatch)
	coll.POST("/rebalance", h.rebalance)

	items := g.Group("/items")
	items.PUT("/:id/position", h.move)
	items.DELETE("/:id", h.remove)
}

type (
	itemResponse struct {
		ID         uuid.UUID `json:"id"`
		Collection string    `json:"collection"`
		Rank       string    `json:"rank"`
		Revision   int64     `json:"revision"`
		CreatedAt  time.Time `json:"created_at"`
		UpdatedAt  time.Time `json:"updated_at"`
	}

	listResponse struct {
		Items []itemResponse `json:"items"`
	}

	addRequest struct {
		ID       string `json:"id" validate:"omitempty,uuid"`
		Position string `json:"position" validate:"omitempty,oneof=first last"`
	}

	addBatchRequest struct {
		IDs []string `json:"ids" validate:"required,min=1,max=1000,dive,uuid"`
	}

	// moveRequest places an item after another one or at an index. An empty
	// After moves the item to the head of its collection.
	moveRequest struct {
		After *string `json:"after"`
		Index *int    `json:"index" validate:"omitempty,min=0"`
	}
)

func newItemResponse(it domain.Item) itemResponse {
	return itemResponse{
		ID:         it.ID,
		Collection: it.Collection.String(),
		Rank:       it.Rank,
		Revision:   it.Revision,
		CreatedAt:  it.CreatedAt,
		UpdatedAt:  it.UpdatedAt,
	}
}

func newListResponse(items []domain.Item) listResponse {
	resp := listResponse{Items: make([]itemResponse, len(items))}
	for i, it := range items {
		resp.Items[i] = newItemResponse(it)
	}
	return resp
}

func collectionParam(c echo.Context) (domain.Collection, error) {
	return domain.NewCollection(c.Param("kind"), c.Param("parent"))
}

func idParam(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, errInvalidItemID
	}
	return id, nil
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func (h *orderingHandler) list(c echo.Context) error {
	coll, err := collectionParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.List(c.Request().Context(), coll)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newListResponse(items))
}

func (h *orderingHandler) add(c echo.Context) error {
	coll, err := collectionParam(c)
	if err != nil {
		return err
	}
	var req addRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	id := uuid.New()
	if req.ID != "" {
		id = uuid.MustParse(req.ID)
	}

	ctx := c.Request().Context()
	var it domain.Item
	if req.Position == "first" {
		it, err = h.svc.Prepend(ctx, coll, id)
	} else {
		it, err = h.svc.Append(ctx, coll, id)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newItemResponse(it))
}

func (h *orderingHandler) addBatch(c echo.Context) error {
	coll, err := collectionParam(c)
	if err != nil {
		return err
	}
	var req addBatchRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	ids := make([]uuid.UUID, len(req.IDs))
	for i, s := range req.IDs {
		ids[i] = uuid.MustParse(s)
	}
	items, err := h.svc.AppendBatch(c.Request().Context(), coll, ids)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, newListResponse(items))
}

func (h *orderingHandler) rebalance(c echo.Context) error {
	coll, err := collectionParam(c)
	if err != nil {
		return err
	}
	items, err := h.svc.Rebalance(c.Request().Context(), coll)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newListResponse(items))
}

func (h *orderingHandler) move(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	var req moveRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if (req.After == nil) == (req.Index == nil) {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of after or index is required")
	}

	ctx := c.Request().Context()
	var it domain.Item
	if req.Index != nil {
		it, err = h.svc.MoveToIndex(ctx, id, *req.Index)
	} else {
		after := uuid.Nil
		if *req.After != "" {
			if after, err = uuid.Parse(*req.After); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid after id")
			}
		}
		it, err = h.svc.Move(ctx, id, after)
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, newItemResponse(it))
}

func (h *orderingHandler) remove(c echo.Context) error {
	id, err := idParam(c)
	if err != nil {
		return err
	}
	if err := h.svc.Remove(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
