package enum

// ── Group A: State machines ──

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	OrderStatusOpen   = "open"
	OrderStatusLocked = "locked"
	OrderStatusClosed = "closed"
)

const (
	KDSStatusPending   = "pending"
	KDSStatusPreparing = "preparing"
	KDSStatusDone      = "done"
	KDSStatusArchived  = "archived"
)

const (
	ChargeStatusPending   = "pending"
	ChargeStatusPaid      = "paid"
	ChargeStatusCancelled = "cancelled"
)

const (
	FiscalStatusPending = "pending"
	FiscalStatusEmitted = "emitted"
	FiscalStatusFailed  = "failed"
)

// ── Group B: Cashier streams and ledger entries ──

const (
	SessionRestaurant            = "restaurant_service"
	SessionGuestConsumption      = "guest_consumption"
	SessionReceptionReservations = "reception_reservations"
)

const (
	TxnSale       = "sale"
	TxnIn         = "in"
	TxnOut        = "out"
	TxnWithdrawal = "withdrawal"
	TxnTransfer   = "transfer"
)

const (
	CategoryTransferSent     = "Transferência Enviada"
	CategoryTransferReceived = "Transferência Recebida"
	CategoryRestaurantSale   = "Venda Restaurante"
	CategoryPartialPayment   = "Pagamento Parcial"
	CategoryRoomPayment      = "Pagamento de Conta"
	CategoryManualReceipt    = "Recebimento Manual"
	CategoryReversal         = "Estorno"
)

// ── Group C: Customers, sources, contexts ──

const (
	CustomerPassante    = "passante"
	CustomerHospede     = "hospede"
	CustomerFuncionario = "funcionario"
	CustomerExterno     = "externo"
)

const (
	SourceRestaurant   = "restaurant"
	SourceMinibar      = "minibar"
	SourceAutoCover    = "auto_cover_activation"
	SourceManual       = "manual"
	OriginRestaurant   = "restaurant"
	OriginReception    = "reception"
	ContextRestaurant  = "restaurant"
	ContextReception   = "reception"
	ContextReservation = "reservations"
)

// ── Group D: Roles and audit ──

const (
	RoleAdmin      = "admin"
	RoleGerente    = "gerente"
	RoleSupervisor = "supervisor"
	RoleGarcom     = "garcom"
	RoleRecepcao   = "recepcao"
	RoleCaixa      = "caixa"
	RoleCozinha    = "cozinha"
)

const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
)

const (
	DeptRestaurant = "Restaurante"
	DeptReception  = "Recepção"
	DeptFinance    = "Financeiro"
	DeptSystem     = "Sistema"
)

// IsElevated reports whether role carries the admin/supervisor/gerente capability.
func IsElevated(role string) bool {
	switch role {
	case RoleAdmin, RoleGerente, RoleSupervisor:
		return true
	}
	return false
}
