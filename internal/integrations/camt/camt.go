package camt

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/Dan9191/atm-service/internal/utils"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
)

// Namespace of the generated bank-to-customer statement
const Namespace = "urn:iso:std:iso:20022:tech:xsd:camt.053.001.02"

// ContentType for statement responses
const ContentType = "application/xml; charset=utf-8"

// StatementInput is what a statement is rendered from
type StatementInput struct {
	Account      *models.Account
	HolderName   string
	CardLabel    string
	Transactions []*models.Transaction
	GeneratedAt  time.Time
}

// BuildStatement renders a camt.053-style statement with the closing balance and the listed entries.
func BuildStatement(in StatementInput) ([]byte, error) {
	if in.Account == nil {
		return nil, fmt.Errorf("statement requires an account")
	}
	created := in.GeneratedAt.UTC().Format(time.RFC3339)
	msgID := fmt.Sprintf("STMT-%d-%d", in.Account.ID, in.GeneratedAt.Unix())

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	root := doc.CreateElement("Document")
	root.CreateAttr("xmlns", Namespace)
	stmtRoot := root.CreateElement("BkToCstmrStmt")

	hdr := stmtRoot.CreateElement("GrpHdr")
	hdr.CreateElement("MsgId").SetText(msgID)
	hdr.CreateElement("CreDtTm").SetText(created)

	stmt := stmtRoot.CreateElement("Stmt")
	stmt.CreateElement("Id").SetText(msgID)
	stmt.CreateElement("CreDtTm").SetText(created)

	acct := stmt.CreateElement("Acct")
	acct.CreateElement("Id").CreateElement("Othr").CreateElement("Id").SetText(strconv.FormatInt(in.Account.ID, 10))
	acct.CreateElement("Ccy").SetText(in.Account.Currency)
	acct.CreateElement("Nm").SetText(in.CardLabel)
	acct.CreateElement("Ownr").CreateElement("Nm").SetText(in.HolderName)

	bal := stmt.CreateElement("Bal")
	bal.CreateElement("Tp").CreateElement("CdOrPrtry").CreateElement("Cd").SetText("CLBD")
	addAmount(bal, in.Account.Balance, in.Account.Currency)
	bal.CreateElement("CdtDbtInd").SetText("CRDT")
	bal.CreateElement("Dt").CreateElement("DtTm").SetText(created)

	summary := stmt.CreateElement("TxsSummry").CreateElement("TtlNtries")
	summary.CreateElement("NbOfNtries").SetText(strconv.Itoa(len(in.Transactions)))

	for _, txn := range in.Transactions {
		ntry := stmt.CreateElement("Ntry")
		ntry.CreateElement("NtryRef").SetText(strconv.FormatInt(txn.ID, 10))
		addAmount(ntry, txn.Amount, in.Account.Currency)
		ntry.CreateElement("CdtDbtInd").SetText(creditDebit(txn.Type))
		ntry.CreateElement("Sts").SetText("BOOK")
		ntry.CreateElement("BookgDt").CreateElement("DtTm").SetText(txn.CreatedAt.UTC().Format(time.RFC3339))
		ntry.CreateElement("AddtlNtryInf").SetText(string(txn.Type))
	}

	doc.Indent(2)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to write statement: %w", err)
	}
	return out, nil
}

func addAmount(parent *etree.Element, amount decimal.Decimal, currency string) {
	amt := parent.CreateElement("Amt")
	amt.CreateAttr("Ccy", currency)
	amt.SetText(utils.FormatMoney(amount))
}

func creditDebit(t models.TransactionType) string {
	if t == models.TransactionWithdrawal {
		return "DBIT"
	}
	return "CRDT"
}
