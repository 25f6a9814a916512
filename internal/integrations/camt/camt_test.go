package camt

import (
	"testing"
	"time"

	"github.com/Dan9191/atm-service/internal/models"
	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestBuildStatement(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	out, err := BuildStatement(StatementInput{
		Account:    &models.Account{ID: 42, Currency: "USD", Balance: decimal.RequireFromString("130.5")},
		HolderName: "Alex Rivera",
		CardLabel:  "VISA ••1111",
		Transactions: []*models.Transaction{
			{ID: 2, Type: models.TransactionWithdrawal, Amount: decimal.RequireFromString("20"), CreatedAt: at},
			{ID: 1, Type: models.TransactionDeposit, Amount: decimal.RequireFromString("50.5"), CreatedAt: at.Add(-time.Hour)},
		},
		GeneratedAt: at,
	})
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	require.Equal(t, Namespace, doc.Root().SelectAttrValue("xmlns", ""))

	require.Equal(t, "STMT-42-"+"1770091506", doc.FindElement("//GrpHdr/MsgId").Text())
	require.Equal(t, "Alex Rivera", doc.FindElement("//Acct/Ownr/Nm").Text())

	bal := doc.FindElement("//Bal/Amt")
	require.Equal(t, "130.50", bal.Text())
	require.Equal(t, "USD", bal.SelectAttrValue("Ccy", ""))
	require.Equal(t, "2", doc.FindElement("//TxsSummry/TtlNtries/NbOfNtries").Text())

	entries := doc.FindElements("//Ntry")
	require.Len(t, entries, 2)
	require.Equal(t, "DBIT", entries[0].FindElement("./CdtDbtInd").Text())
	require.Equal(t, "20.00", entries[0].FindElement("./Amt").Text())
	require.Equal(t, "CRDT", entries[1].FindElement("./CdtDbtInd").Text())
	require.Equal(t, "50.50", entries[1].FindElement("./Amt").Text())
}

func TestBuildStatement_RequiresAccount(t *testing.T) {
	_, err := BuildStatement(StatementInput{})
	require.Error(t, err)
}
