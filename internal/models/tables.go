package models

import "github.com/stratochat/stratochat/internal/kv"

const (
	TableUsers  = "users"
	TableRoles  = "roles"
	TableModels = "models"
	TableChats  = "chats"

	IndexUserEmail  = "email-index"
	IndexUserStatus = "status-index"
	IndexRoleName   = "name-index"
	IndexChatUser   = "user-index"
)

// Tables is the full table/index layout. Model records carry no index;
// their listings scan.
func Tables() []kv.TableSpec {
	return []kv.TableSpec{
		{
			Name: TableUsers,
			Indexes: []kv.IndexSpec{
				{Name: IndexUserEmail, HashAttr: "email"},
				{Name: IndexUserStatus, HashAttr: "status"},
			},
		},
		{
			Name: TableRoles,
			Indexes: []kv.IndexSpec{
				{Name: IndexRoleName, HashAttr: "name"},
			},
		},
		{
			Name: TableModels,
		},
		{
			Name: TableChats,
			Indexes: []kv.IndexSpec{
				{Name: IndexChatUser, HashAttr: "user_id", SortAttr: "updated_at"},
			},
		},
	}
}
