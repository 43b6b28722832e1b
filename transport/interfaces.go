package transport

import (
	"context"
)

// DupOps handles high-frequency duplication operations
type DupOps interface {
	DupsQuery(context.Context, *DupsQueryRequest, *DupsQueryResponse) error
	DupsSync(context.Context, *DupsSyncRequest, *DupsSyncResponse) error
}

// DupAdmin handles duplication lifecycle management
type DupAdmin interface {
	DupsAdd(context.Context, *DupsAddRequest, *DupsAddResponse) error
	DupsModify(context.Context, *DupsModifyRequest, *DupsModifyResponse) error
}

// AppAdmin handles app registration
type AppAdmin interface {
	AppsCreate(context.Context, *AppInfo) error
	AppsList(context.Context, *AppsListRequest, *AppsListResponse) error
}

// Service combines all interfaces the HTTP handler dispatches to
type Service interface {
	DupOps
	DupAdmin
	AppAdmin
}
