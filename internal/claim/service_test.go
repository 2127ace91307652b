package claim_test

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis_rate/v10"
	"github.com/golang/mock/gomock"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feral-file/ff-gift-engine/internal/adapter"
	"github.com/feral-file/ff-gift-engine/internal/claim"
	"github.com/feral-file/ff-gift-engine/internal/commitment"
	"github.com/feral-file/ff-gift-engine/internal/domain"
	"github.com/feral-file/ff-gift-engine/internal/logger"
	"github.com/feral-file/ff-gift-engine/internal/mocks"
	"github.com/feral-file/ff-gift-engine/internal/resolver"
	"github.com/feral-file/ff-gift-engine/internal/store"
)

var (
	escrowAddress = common.HexToAddress("0x1111111111111111111111111111111111111111")
	nftAddress    = common.HexToAddress("0x2222222222222222222222222222222222222222")
	chainID       = big.NewInt(8453)
	now           = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
)

func TestMain(m *testing.M) {
	if err := logger.Initialize(logger.Config{Debug: false}); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testService struct {
	service  claim.Service
	contract *mocks.MockEscrowContract
	limiter  *mocks.MockRedisRateLimiter
	resolver *mocks.MockResolver
	verifier *commitment.Verifier
}

func setupTestService(t *testing.T, rateLimit int) *testService {
	t.Helper()
	ctrl := gomock.NewController(t)

	contract := mocks.NewMockEscrowContract(ctrl)
	contract.EXPECT().NFTAddress().Return(nftAddress).AnyTimes()
	limiter := mocks.NewMockRedisRateLimiter(ctrl)
	res := mocks.NewMockResolver(ctrl)
	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(now).AnyTimes()

	verifier, err := commitment.NewVerifier(escrowAddress, chainID)
	require.NoError(t, err)

	svc := claim.NewService(claim.Config{RateLimitPerMinute: rateLimit}, res, contract, verifier, limiter, store.NewKeys(""), clock)
	return &testService{service: svc, contract: contract, limiter: limiter, resolver: res, verifier: verifier}
}

func (ts *testService) activeGift(giftID domain.GiftID, tokenID domain.TokenID, password, salt string) *domain.OnChainGift {
	return &domain.OnChainGift{
		GiftID:         giftID,
		Creator:        common.HexToAddress("0x3333333333333333333333333333333333333333"),
		ExpirationTime: now.Add(24 * time.Hour),
		NFTContract:    nftAddress,
		TokenID:        tokenID,
		PasswordHash:   ts.verifier.Hash(password, salt, giftID),
		Status:         domain.GiftStatusActive,
	}
}

func attempt(password string) domain.ClaimAttempt {
	return domain.ClaimAttempt{TokenID: 186, Password: password, Salt: "S", DeviceID: "device-1", Timestamp: now}
}

func TestVerify(t *testing.T) {
	tests := []struct {
		name     string
		password string
		setup    func(ts *testService)
		valid    bool
		wantErr  error
	}{
		{
			name:     "correct password",
			password: "Secret1",
			setup: func(ts *testService) {
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(ts.activeGift(209, 186, "Secret1", "S"), nil)
			},
			valid: true,
		},
		{
			name:     "wrong password",
			password: "secret1",
			setup: func(ts *testService) {
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(ts.activeGift(209, 186, "Secret1", "S"), nil)
			},
			wantErr: domain.ErrInvalidPassword,
		},
		{
			name:     "unresolved token",
			password: "Secret1",
			setup: func(ts *testService) {
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(0), domain.ErrNotFound)
			},
			wantErr: domain.ErrNotFound,
		},
		{
			name:     "already claimed",
			password: "Secret1",
			setup: func(ts *testService) {
				gift := ts.activeGift(209, 186, "Secret1", "S")
				gift.Status = domain.GiftStatusClaimed
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(gift, nil)
			},
			wantErr: domain.ErrGiftNotClaimable,
		},
		{
			name:     "expired",
			password: "Secret1",
			setup: func(ts *testService) {
				gift := ts.activeGift(209, 186, "Secret1", "S")
				gift.ExpirationTime = now
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(gift, nil)
			},
			wantErr: domain.ErrGiftNotClaimable,
		},
		{
			name:     "gift holds another token",
			password: "Secret1",
			setup: func(ts *testService) {
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(ts.activeGift(209, 187, "Secret1", "S"), nil)
			},
			wantErr: domain.ErrConsistency,
		},
		{
			name:     "chain unavailable",
			password: "Secret1",
			setup: func(ts *testService) {
				ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
				ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(nil, domain.Unavailable(errors.New("timeout")))
			},
			wantErr: domain.ErrServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := setupTestService(t, 0)
			tt.setup(ts)

			valid, err := ts.service.Verify(context.Background(), attempt(tt.password))
			assert.Equal(t, tt.valid, valid)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_RateLimited(t *testing.T) {
	ts := setupTestService(t, 5)

	ts.limiter.EXPECT().Allow(gomock.Any(), "claim:device:device-1", redis_rate.PerMinute(5)).
		Return(&redis_rate.Result{Allowed: 0, RetryAfter: 10 * time.Second}, nil)

	valid, err := ts.service.Verify(context.Background(), attempt("Secret1"))
	assert.False(t, valid)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestVerify_ThrottleStoreDown(t *testing.T) {
	ts := setupTestService(t, 5)

	ts.limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("connection refused"))

	valid, err := ts.service.Verify(context.Background(), attempt("Secret1"))
	assert.False(t, valid)
	assert.ErrorIs(t, err, domain.ErrServiceUnavailable)
}

func TestVerify_WithinBudget(t *testing.T) {
	ts := setupTestService(t, 5)

	ts.limiter.EXPECT().Allow(gomock.Any(), gomock.Any(), gomock.Any()).Return(&redis_rate.Result{Allowed: 1, Remaining: 4}, nil)
	ts.resolver.EXPECT().Resolve(gomock.Any(), domain.TokenID(186)).Return(domain.GiftID(209), nil)
	ts.contract.EXPECT().GetGift(gomock.Any(), domain.GiftID(209)).Return(ts.activeGift(209, 186, "Secret1", "S"), nil)

	valid, err := ts.service.Verify(context.Background(), attempt("Secret1"))
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestVerify_NotConfigured(t *testing.T) {
	svc := claim.NewService(claim.Config{}, nil, nil, nil, nil, store.NewKeys(""), nil)
	valid, err := svc.Verify(context.Background(), attempt("Secret1"))
	assert.False(t, valid)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

// TestVerify_TokenResolvesToLaterGift covers token 186 whose live gift is 209. The commitment
// binds gift 209, so verifying against 186 would fail.
func TestVerify_TokenResolvesToLaterGift(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx := context.Background()

	verifier, err := commitment.NewVerifier(escrowAddress, chainID)
	require.NoError(t, err)
	hash := verifier.Hash("Secret1", "S", 209)
	assert.False(t, verifier.Verify(hash, "Secret1", "S", 186))

	contract := mocks.NewMockEscrowContract(ctrl)
	contract.EXPECT().NFTAddress().Return(nftAddress).AnyTimes()
	contract.EXPECT().LatestGiftID(gomock.Any()).Return(domain.GiftID(210), nil)
	contract.EXPECT().GetGift(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, giftID domain.GiftID) (*domain.OnChainGift, error) {
			gift := &domain.OnChainGift{
				GiftID:         giftID,
				Creator:        common.HexToAddress("0x3333333333333333333333333333333333333333"),
				ExpirationTime: now.Add(time.Hour),
				NFTContract:    nftAddress,
				TokenID:        domain.TokenID(giftID) + 1000,
				Status:         domain.GiftStatusActive,
			}
			if giftID == 209 {
				gift.TokenID = 186
				gift.PasswordHash = hash
			}
			return gift, nil
		}).AnyTimes()

	clock := mocks.NewMockClock(ctrl)
	clock.EXPECT().Now().Return(now).AnyTimes()

	mr := miniredis.RunT(t)
	client := adapter.WrapRedisClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })
	keys := store.NewKeys("")

	res, err := resolver.New(resolver.Config{MaxScanDepth: 10, ScanTimeout: time.Second, ScanConcurrency: 2},
		contract, store.NewRedisMappingStore(client, keys), nil)
	require.NoError(t, err)
	t.Cleanup(res.Close)

	giftID, err := res.Resolve(ctx, 186)
	require.NoError(t, err)
	assert.Equal(t, domain.GiftID(209), giftID)

	svc := claim.NewService(claim.Config{}, res, contract, verifier, nil, keys, clock)

	valid, err := svc.Verify(ctx, attempt("Secret1"))
	require.NoError(t, err)
	assert.True(t, valid)
}
