package rest

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/feral-file/ff-gift-engine/internal/api/shared/constants"
	"github.com/feral-file/ff-gift-engine/internal/domain"
)

// ListEventsQueryParams holds query parameters for GET /events
type ListEventsQueryParams struct {
	After  uint64       `form:"after,default=0"`
	Before uint64       `form:"before,default=0"`
	Limit  int          `form:"limit,default=100"`
	Order  domain.Order `form:"order,default=asc"`
}

// ParseListEventsQuery parses query parameters for GET /events
func ParseListEventsQuery(c *gin.Context) (*ListEventsQueryParams, error) {
	var params ListEventsQueryParams
	if err := c.ShouldBindQuery(&params); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}

	if params.Limit <= 0 {
		params.Limit = constants.DEFAULT_EVENTS_LIMIT
	}
	if params.Limit > constants.MAX_EVENTS_LIMIT {
		params.Limit = constants.MAX_EVENTS_LIMIT
	}
	if params.Order != domain.OrderAsc && params.Order != domain.OrderDesc {
		return nil, fmt.Errorf("%w: order must be asc or desc", domain.ErrInvalidArgument)
	}
	if params.Before > 0 && params.After >= params.Before {
		return nil, fmt.Errorf("%w: after must be below before", domain.ErrInvalidArgument)
	}

	return &params, nil
}

// Query converts the parameters into a log query
func (p *ListEventsQueryParams) Query() domain.EventQuery {
	return domain.EventQuery{
		After:  p.After,
		Before: p.Before,
		Limit:  p.Limit,
		Order:  p.Order,
	}
}
