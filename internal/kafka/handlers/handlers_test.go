package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vn.io.arda/realtime/internal/domain"
	"vn.io.arda/realtime/internal/kafka/registry"
)

func topics(ev *domain.DomainEvent) []domain.Topic {
	var out []domain.Topic
	for _, b := range ev.Broadcasts {
		out = append(out, b.Topic)
	}
	return out
}

func TestInventoryUpdated_BroadcastsWideAndScoped(t *testing.T) {
	ev := registry.Dispatch("inventory-events", []byte(`{
		"eventType": "INVENTORY_UPDATED", "eventId": "e1", "tenantKey": "T1",
		"payload": {"productId": "p1", "locationId": "loc-1", "oldQty": 9, "newQty": 4}
	}`))
	require.NotNil(t, ev)
	assert.Equal(t, "T1", ev.TenantID)
	assert.Equal(t, "e1", ev.SourceID)
	assert.Equal(t, []domain.Topic{"inventory:T1", "inventory:T1:loc-1"}, topics(ev))
	assert.Equal(t, domain.EventInventoryUpdated, ev.Broadcasts[1].Event)
	assert.Nil(t, ev.Notification)
	require.NotNil(t, ev.Webhook)
	assert.Equal(t, "inventory.updated", ev.Webhook.Event)

	noLocation := registry.Dispatch("inventory-events", []byte(`{"eventType":"INVENTORY_UPDATED","tenantKey":"T1","payload":{"productId":"p1"}}`))
	require.NotNil(t, noLocation)
	assert.Equal(t, []domain.Topic{"inventory:T1"}, topics(noLocation))
}

func TestInventoryHandlers_RejectIncomplete(t *testing.T) {
	assert.Nil(t, handleInventoryUpdated([]byte(`{"tenantKey":"T1","payload":{}}`)))
	assert.Nil(t, handleInventoryUpdated([]byte(`{"payload":{"productId":"p1"}}`)))
	assert.Nil(t, handleLowStock([]byte(`not json`)))
}

func TestLowStock_NotifiesRole(t *testing.T) {
	ev := handleLowStock([]byte(`{
		"eventType": "LOW_STOCK", "eventId": "e2", "tenantKey": "T1",
		"payload": {"productId": "p1", "productName": "Cà phê", "locationId": "loc-1", "locationName": "Kho Q1", "newQty": 3, "threshold": 10}
	}`))
	require.NotNil(t, ev)
	require.NotNil(t, ev.Notification)
	n := ev.Notification
	assert.Equal(t, []string{DefaultStockRole}, n.Roles)
	assert.Equal(t, domain.PriorityHigh, n.Priority)
	assert.Equal(t, "low_stock", n.Type)
	assert.Contains(t, n.Message, "Kho Q1")
	assert.Equal(t, "inventory.low_stock", ev.Webhook.Event)

	out := handleLowStock([]byte(`{"tenantKey":"T1","payload":{"productId":"p1","newQty":0,"notifyRole":"store_lead"}}`))
	require.NotNil(t, out)
	assert.Equal(t, domain.PriorityUrgent, out.Notification.Priority)
	assert.Equal(t, []string{"store_lead"}, out.Notification.Roles)
}

func TestTransactionCreated(t *testing.T) {
	ev := registry.Dispatch("transaction-events", []byte(`{
		"eventType": "TRANSACTION_CREATED", "tenantKey": "T1",
		"payload": {"transactionId": "tx1", "amount": 500, "currency": "VND", "locationId": "loc-2"}
	}`))
	require.NotNil(t, ev)
	assert.Equal(t, []domain.Topic{"transactions:T1", "transactions:T1:loc-2"}, topics(ev))
	assert.Nil(t, ev.Notification)
	assert.Equal(t, "transaction.created", ev.Webhook.Event)

	big := handleTransactionCreated([]byte(`{"tenantKey":"T1","payload":{
		"transactionId":"tx2","reference":"HD-9","amount":25000000,"currency":"VND",
		"reviewThreshold":10000000,"reviewRole":"accountant"}}`))
	require.NotNil(t, big.Notification)
	assert.Equal(t, []string{"accountant"}, big.Notification.Roles)
	assert.Contains(t, big.Notification.Message, "25.000.000")
}

func TestCustomerActivity(t *testing.T) {
	ev := registry.Dispatch("customer-events", []byte(`{
		"eventType": "CUSTOMER_ACTIVITY", "tenantKey": "T1",
		"payload": {"customerId": "c9", "customerName": "Ann", "activity": "order_placed", "ownerId": "u7"}
	}`))
	require.NotNil(t, ev)
	assert.Equal(t, []domain.Topic{"customers:T1", "customers:T1:c9"}, topics(ev))
	require.NotNil(t, ev.Notification)
	assert.Equal(t, []string{"u7"}, ev.Notification.Recipients)

	noOwner := handleCustomerActivity([]byte(`{"tenantKey":"T1","payload":{"customerId":"c9"}}`))
	require.NotNil(t, noOwner)
	assert.Nil(t, noOwner.Notification)
}

func TestDirectCommand(t *testing.T) {
	ev, ok := registry.DispatchDirect("notification-commands", []byte(`{
		"commandId": "cmd-1", "tenantKey": "T1", "type": "reminder",
		"recipients": ["u1"], "targetId": "u2", "roles": ["cashier"],
		"templateId": "6f1c1d4e-8a7b-4c1e-9d57-0f3c5b2a9e11",
		"title": "Nhắc nhở", "body": "Kiểm kho cuối ngày",
		"priority": "high", "channels": ["in_app", "email"]
	}`))
	require.True(t, ok)
	require.NotNil(t, ev)
	req := ev.Notification
	require.NotNil(t, req)
	assert.Equal(t, "cmd-1", ev.SourceID)
	assert.Equal(t, []string{"u1", "u2"}, req.Recipients)
	assert.Equal(t, []string{"cashier"}, req.Roles)
	assert.Equal(t, domain.PriorityHigh, req.Priority)
	assert.Equal(t, []domain.Channel{domain.ChannelInApp, domain.ChannelEmail}, req.Channels)
	require.NotNil(t, req.TemplateID)

	assert.Nil(t, handleDirectCommand([]byte(`{"tenantKey":"T1","body":"nobody"}`)))
	assert.Nil(t, handleDirectCommand([]byte(`{"recipients":["u1"]}`)))
	assert.Equal(t, "custom", handleDirectCommand([]byte(`{"tenantKey":"T1","targetId":"u1"}`)).Notification.Type)
}

func TestTenantEvents_NotifyPlatformAdmins(t *testing.T) {
	ev := registry.Dispatch("tenant-events", []byte(`{
		"eventType": "TENANT_STATUS_UPDATED", "eventId": "e5", "tenantKey": "acme",
		"payload": {"status": "SUSPENDED"}
	}`))
	require.NotNil(t, ev)
	assert.Equal(t, PlatformTenant, ev.TenantID)
	require.NotNil(t, ev.Notification)
	assert.Equal(t, []string{PlatformAdminRole}, ev.Notification.Roles)
	assert.Contains(t, ev.Notification.Message, "SUSPENDED")
	assert.Equal(t, "acme", ev.Notification.Data["tenantKey"])
}
