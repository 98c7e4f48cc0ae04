package httpapi

import (
	"net/http"
	"strings"

	"pumpledger/internal/domain"
)

func (a *API) handleActiveShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.ledger.GetActiveShift(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift": shift})
}

func (a *API) handleStartShift(w http.ResponseWriter, r *http.Request) {
	shift, err := a.ledger.StartShift(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"shift": shift})
}

func (a *API) handleEndShift(w http.ResponseWriter, r *http.Request) {
	ended, next, err := a.ledger.EndShift(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ended": ended, "next": next})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.ledger.ListProducts(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	product, err := a.ledger.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleListTanks(w http.ResponseWriter, r *http.Request) {
	tanks, err := a.ledger.ListTanks(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tanks": tanks})
}

func (a *API) handleCreateTank(w http.ResponseWriter, r *http.Request) {
	var req domain.TankCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	tank, err := a.ledger.CreateTank(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"tank": tank})
}

func (a *API) handleRecordDip(w http.ResponseWriter, r *http.Request) {
	var req domain.DipRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	dip, err := a.ledger.RecordDip(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"dip": dip})
}

func (a *API) handleListNozzles(w http.ResponseWriter, r *http.Request) {
	nozzles, err := a.ledger.ListNozzles(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"nozzles": nozzles})
}

func (a *API) handleCreateNozzle(w http.ResponseWriter, r *http.Request) {
	var req domain.NozzleCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	nozzle, err := a.ledger.CreateNozzle(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"nozzle": nozzle})
}

func (a *API) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.ledger.ListAccounts(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": accounts})
}

func (a *API) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.ledger.CreateAccount(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account": account})
}

func (a *API) handleAccountStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.AccountStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := a.ledger.SetAccountStatus(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account})
}

// shiftParam resolves the shift_id query parameter, falling back to the
// active shift when it is absent.
func (a *API) shiftParam(r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.URL.Query().Get("shift_id")); id != "" {
		return id, nil
	}
	shift, err := a.ledger.GetActiveShift(r.Context())
	if err != nil {
		return "", err
	}
	return shift.ID, nil
}

func (a *API) handleListReadings(w http.ResponseWriter, r *http.Request) {
	shiftID, err := a.shiftParam(r)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	readings, err := a.ledger.ListReadings(r.Context(), shiftID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift_id": shiftID, "readings": readings})
}

func (a *API) handleRecordReading(w http.ResponseWriter, r *http.Request) {
	var req domain.ReadingRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	reading, err := a.ledger.RecordReading(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"reading": reading})
}

func (a *API) handleEditReading(w http.ResponseWriter, r *http.Request) {
	var req domain.ReadingEditRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	reading, err := a.ledger.EditReading(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reading": reading})
}

func (a *API) handleDeleteReading(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.DeleteReading(r.Context(), r.PathValue("id")); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func invoiceKind(r *http.Request) domain.InvoiceKind {
	return domain.InvoiceKind(strings.ReplaceAll(r.PathValue("kind"), "-", "_"))
}

func (a *API) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	shiftID, err := a.shiftParam(r)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	invoices, err := a.ledger.ListInvoices(r.Context(), invoiceKind(r), shiftID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift_id": shiftID, "invoices": invoices})
}

func (a *API) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.ledger.CreateInvoice(r.Context(), invoiceKind(r), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"invoice": invoice})
}

func (a *API) handleEditInvoice(w http.ResponseWriter, r *http.Request) {
	var req domain.InvoiceRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	invoice, err := a.ledger.EditInvoice(r.Context(), invoiceKind(r), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"invoice": invoice})
}

func (a *API) handleDeleteInvoice(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.DeleteInvoice(r.Context(), invoiceKind(r), r.PathValue("id")); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleApplyReceipt(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.ledger.ApplyReceipt(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"receipt": receipt})
}

func (a *API) handleStatement(w http.ResponseWriter, r *http.Request) {
	statement, err := a.ledger.Statement(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func (a *API) handleEditReceipt(w http.ResponseWriter, r *http.Request) {
	var req domain.ReceiptRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt, err := a.ledger.EditReceipt(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipt": receipt})
}

func (a *API) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.DeleteReceipt(r.Context(), r.PathValue("id")); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListBills(w http.ResponseWriter, r *http.Request) {
	shiftID, err := a.shiftParam(r)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	bills, err := a.ledger.ListBills(r.Context(), shiftID)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"shift_id": shiftID, "bills": bills})
}

func (a *API) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req domain.BillRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	bill, err := a.ledger.CreateBill(r.Context(), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"bill": bill})
}

func (a *API) handleEditBill(w http.ResponseWriter, r *http.Request) {
	var req domain.BillRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	bill, err := a.ledger.EditBill(r.Context(), r.PathValue("id"), req)
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bill": bill})
}

func (a *API) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	if err := a.ledger.DeleteBill(r.Context(), r.PathValue("id")); err != nil {
		a.writeLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleShiftReport(w http.ResponseWriter, r *http.Request) {
	data, err := a.reports.ShiftReport(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (a *API) handleShiftSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := a.reports.ShiftSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleStockPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := a.reports.StockPositions(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tanks": positions})
}

func (a *API) handleGainLoss(w http.ResponseWriter, r *http.Request) {
	points, err := a.reports.GainLossTrend(r.Context(), r.PathValue("id"))
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tank_id": r.PathValue("id"), "points": points})
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	audit, err := a.reports.Audit(r.Context())
	if err != nil {
		a.writeLedgerError(w, err)
		return
	}
	status := http.StatusOK
	if !audit.OK() {
		status = http.StatusConflict
	}
	writeJSON(w, status, audit)
}
