package messages

// ─── Inventory ───────────────────────────────────────────────────────────────

const (
	LowStockTitle = "Sắp hết hàng"
	LowStockBody  = "Sản phẩm '%s' tại kho '%s' chỉ còn %d (ngưỡng cảnh báo: %d)."

	OutOfStockTitle = "Đã hết hàng"
	OutOfStockBody  = "Sản phẩm '%s' tại kho '%s' đã hết hàng."
)

// ─── Transactions ────────────────────────────────────────────────────────────

const (
	LargeTransactionTitle = "Giao dịch giá trị lớn"
	LargeTransactionBody  = "Giao dịch %s trị giá %s %s vừa được tạo tại '%s'."
)

// ─── Customers ───────────────────────────────────────────────────────────────

const (
	CustomerActivityTitle = "Hoạt động mới của khách hàng"
	CustomerActivityBody  = "Khách hàng '%s' vừa %s."
)

// ─── Tenant ──────────────────────────────────────────────────────────────────

const (
	TenantStatusUpdatedTitle = "Trạng thái tenant thay đổi"
	TenantStatusUpdatedBody  = "Trạng thái của tenant '%s' đã được đổi thành %s. Các kết nối realtime của tenant sẽ bị từ chối nếu tenant không còn hoạt động."

	TenantDeletedTitle = "Đã xóa tenant"
	TenantDeletedBody  = "Tenant '%s' đã bị xóa khỏi hệ thống."
)
