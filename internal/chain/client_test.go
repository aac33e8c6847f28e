package chain

import (
	"context"
	"math/big"
	"testing"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	registryAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ledgerAddr   = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	patientAddr  = common.HexToAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	doctorAddr   = common.HexToAddress("0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
)

type fakeReader struct {
	lastCall ethereum.CallMsg
	result   []byte
	err      error
}

func (f *fakeReader) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.lastCall = call
	return f.result, f.err
}

type fakeSubmitter struct {
	lastTo   common.Address
	lastData []byte
	hash     common.Hash
	err      error
}

func (f *fakeSubmitter) Submit(ctx context.Context, to common.Address, calldata []byte) (common.Hash, error) {
	f.lastTo = to
	f.lastData = calldata
	return f.hash, f.err
}

func TestHasAccessRoundTrip(t *testing.T) {
	packed, err := registryABI.Methods["hasAccess"].Outputs.Pack(true)
	require.NoError(t, err)

	reader := &fakeReader{result: packed}
	c := NewClient(reader, &fakeSubmitter{}, registryAddr, ledgerAddr, nil)

	granted, err := c.HasAccess(context.Background(), patientAddr, doctorAddr)
	require.NoError(t, err)
	assert.True(t, granted)

	require.NotNil(t, reader.lastCall.To)
	assert.Equal(t, registryAddr, *reader.lastCall.To)
	assert.Equal(t, registryABI.Methods["hasAccess"].ID, reader.lastCall.Data[:4])
}

func TestRecordsDecodesTupleArray(t *testing.T) {
	want := []LedgerRecord{
		{Cid: "bafyone", RecordType: "lab", Timestamp: big.NewInt(1700000000), AddedBy: doctorAddr},
		{Cid: "bafytwo", RecordType: "scan", Timestamp: big.NewInt(1700000500), AddedBy: doctorAddr},
	}
	packed, err := ledgerABI.Methods["getAllRecords"].Outputs.Pack(want)
	require.NoError(t, err)

	reader := &fakeReader{result: packed}
	c := NewClient(reader, &fakeSubmitter{}, registryAddr, ledgerAddr, nil)

	got, err := c.Records(context.Background(), patientAddr)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "bafyone", got[0].Cid)
	assert.Equal(t, "lab", got[0].RecordType)
	assert.Equal(t, int64(1700000000), got[0].Timestamp.Int64())
	assert.Equal(t, doctorAddr, got[0].AddedBy)
	assert.Equal(t, "bafytwo", got[1].Cid)
}

func TestGrantTemporaryPacksArguments(t *testing.T) {
	submitter := &fakeSubmitter{hash: common.HexToHash("0x01")}
	c := NewClient(&fakeReader{}, submitter, registryAddr, ledgerAddr, nil)

	hash, err := c.GrantTemporary(context.Background(), doctorAddr, big.NewInt(3600))
	require.NoError(t, err)
	assert.Equal(t, submitter.hash, hash)
	assert.Equal(t, registryAddr, submitter.lastTo)

	method := registryABI.Methods["grantTemporaryAccess"]
	require.Equal(t, method.ID, submitter.lastData[:4])
	args, err := method.Inputs.Unpack(submitter.lastData[4:])
	require.NoError(t, err)
	assert.Equal(t, doctorAddr, args[0].(common.Address))
	assert.Equal(t, int64(3600), args[1].(*big.Int).Int64())
}

func TestAddRecordTargetsLedger(t *testing.T) {
	submitter := &fakeSubmitter{hash: common.HexToHash("0x02")}
	c := NewClient(&fakeReader{}, submitter, registryAddr, ledgerAddr, nil)

	_, err := c.AddRecord(context.Background(), patientAddr, "bafycid", "lab")
	require.NoError(t, err)
	assert.Equal(t, ledgerAddr, submitter.lastTo)

	method := ledgerABI.Methods["addRecord"]
	args, err := method.Inputs.Unpack(submitter.lastData[4:])
	require.NoError(t, err)
	assert.Equal(t, patientAddr, args[0].(common.Address))
	assert.Equal(t, "bafycid", args[1].(string))
	assert.Equal(t, "lab", args[2].(string))
}

func TestGrantWithSignaturePacksPayload(t *testing.T) {
	submitter := &fakeSubmitter{}
	c := NewClient(&fakeReader{}, submitter, registryAddr, ledgerAddr, nil)

	sig := make([]byte, 65)
	sig[64] = 27
	_, err := c.GrantWithSignature(context.Background(), patientAddr, doctorAddr, true,
		big.NewInt(0), big.NewInt(4), sig)
	require.NoError(t, err)

	method := registryABI.Methods["grantWithSignature"]
	require.Equal(t, method.ID, submitter.lastData[:4])
	args, err := method.Inputs.Unpack(submitter.lastData[4:])
	require.NoError(t, err)
	assert.Equal(t, patientAddr, args[0].(common.Address))
	assert.Equal(t, doctorAddr, args[1].(common.Address))
	assert.True(t, args[2].(bool))
	assert.Equal(t, sig, args[5].([]byte))
}
