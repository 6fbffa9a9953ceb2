package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	agentstore "arp/internal/agent/store"
	"arp/internal/policy"
	"arp/internal/policy/models"
	policystore "arp/internal/policy/store"
	"arp/internal/ranking"
	"arp/internal/score"
	"arp/pkg/testutil"
)

// WalletHandlerSuite exercises the wallet endpoints against a real executor
// backed by in-memory stores and a fake submitter.
type WalletHandlerSuite struct {
	suite.Suite
	router chi.Router
}

type stubSubmitter struct {
	hash string
	err  error
}

func (s stubSubmitter) Submit(context.Context, string, string, float64, []byte) (string, error) {
	return s.hash, s.err
}

func addr(n int) string {
	return fmt.Sprintf("0x%040x", n+1)
}

func (s *WalletHandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := agentstore.NewInMemory()
	scores := score.NewService(mem, mem, ranking.New(), logger, score.DefaultConfig())
	executor := policy.NewExecutor(
		policystore.NewInMemoryPolicies(),
		policystore.NewInMemorySpendLedger(time.Hour),
		stubSubmitter{hash: "0xconfirmed"},
		scores,
		logger,
		policy.Config{SubmitTimeout: time.Second},
	)

	_, err := scores.Register(context.Background(), score.RegisterInput{Address: addr(0), Name: "wallet-owner"})
	s.Require().NoError(err)

	h := New(executor, logger)
	s.router = chi.NewRouter()
	h.RegisterExecute(s.router)
	h.RegisterWrites(s.router)
}

func TestWalletHandlerSuite(t *testing.T) {
	suite.Run(t, new(WalletHandlerSuite))
}

func (s *WalletHandlerSuite) putPolicy(req PolicyRequest) *models.Policy {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/wallet/"+addr(0)+"/policy", req))
	require.Equal(s.T(), http.StatusOK, rr.Code, rr.Body.String())
	return testutil.UnmarshalResponse[models.Policy](s.T(), rr)
}

func (s *WalletHandlerSuite) TestExecuteConfirms() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/wallet/execute", ExecuteRequest{
		AgentWalletID: addr(0),
		Destination:   addr(1),
		Value:         10,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusOK)

	resp := testutil.UnmarshalResponse[ExecuteResponse](s.T(), rr)
	assert.True(s.T(), resp.Success)
	assert.Equal(s.T(), "0xconfirmed", resp.Hash)
	assert.Equal(s.T(), models.StatusConfirmed, resp.Status)
}

func (s *WalletHandlerSuite) TestExecutePolicyRejectionCarriesReason() {
	s.putPolicy(PolicyRequest{PerTxLimit: 5})

	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/wallet/execute", ExecuteRequest{
		AgentWalletID: addr(0),
		Destination:   addr(1),
		Value:         10,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	resp := testutil.UnmarshalResponse[ExecuteResponse](s.T(), rr)
	assert.False(s.T(), resp.Success)
	assert.Empty(s.T(), resp.Hash)
	assert.Equal(s.T(), models.StatusRejected, resp.Status)
	assert.Equal(s.T(), models.ReasonPerTxLimit, resp.Reason)
	assert.Equal(s.T(), "policy_rejected", resp.Error)
}

func (s *WalletHandlerSuite) TestExecuteMalformedDestination() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/wallet/execute", ExecuteRequest{
		AgentWalletID: addr(0),
		Destination:   "not-a-wallet",
		Value:         1,
	}))
	testutil.AssertStatus(s.T(), rr, http.StatusBadRequest)

	resp := testutil.UnmarshalResponse[ExecuteResponse](s.T(), rr)
	assert.False(s.T(), resp.Success)
	assert.Equal(s.T(), models.StatusRejected, resp.Status)
	assert.Equal(s.T(), models.ReasonMalformedDestination, resp.Reason)
	assert.Equal(s.T(), "invalid_input", resp.Error)
}

func (s *WalletHandlerSuite) TestExecuteMissingFields() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/wallet/execute", ExecuteRequest{
		Destination: addr(1),
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *WalletHandlerSuite) TestExecuteUnknownWallet() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/wallet/execute", ExecuteRequest{
		AgentWalletID: addr(7),
		Destination:   addr(1),
		Value:         1,
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}

func (s *WalletHandlerSuite) TestReplacePolicyBumpsVersion() {
	first := s.putPolicy(PolicyRequest{PerTxLimit: 5, PeriodLimit: 50, PeriodSeconds: 3600})
	assert.Equal(s.T(), 1, first.Version)
	assert.Equal(s.T(), 5.0, first.PerTxLimit)

	second := s.putPolicy(PolicyRequest{PerTxLimit: 8})
	assert.Equal(s.T(), 2, second.Version)
}

func (s *WalletHandlerSuite) TestReplacePolicyRejectsMalformedAllowList() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/wallet/"+addr(0)+"/policy", PolicyRequest{
		AllowList: []string{"bogus"},
	}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "invalid_input")
}

func (s *WalletHandlerSuite) TestReplacePolicyUnknownWallet() {
	rr := testutil.DoRequest(s.router, testutil.NewJSONRequest(s.T(), http.MethodPut, "/api/wallet/"+addr(7)+"/policy", PolicyRequest{}))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")
}
