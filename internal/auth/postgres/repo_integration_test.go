// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"golang.org/x/crypto/bcrypt"

	"github.com/holomush/authcore/internal/auth"
	"github.com/holomush/authcore/internal/auth/postgres"
	"github.com/holomush/authcore/internal/notify"
)

type pgFixture struct {
	users    *postgres.UserRepository
	sessions *postgres.SessionRepository
	resets   *postgres.ResetTokenRepository
	outbox   *postgres.OutboxRepository
	service  *auth.Service
}

func newPGFixture() *pgFixture {
	f := &pgFixture{
		users:    postgres.NewUserRepository(pool),
		sessions: postgres.NewSessionRepository(pool),
		resets:   postgres.NewResetTokenRepository(pool),
		outbox:   postgres.NewOutboxRepository(pool),
	}
	hasher, err := auth.NewHasher(auth.AlgorithmBcrypt, bcrypt.MinCost)
	Expect(err).NotTo(HaveOccurred())
	sm, err := auth.NewSessionManager(f.sessions, f.users, auth.DefaultSessionConfig())
	Expect(err).NotTo(HaveOccurred())
	rm, err := auth.NewResetTokenManager(f.resets)
	Expect(err).NotTo(HaveOccurred())
	f.service, err = auth.NewService(f.users, hasher, sm, rm, f.outbox,
		auth.WithBaseURL("https://app.example.com"))
	Expect(err).NotTo(HaveOccurred())
	return f
}

// pending drains due outbox entries without delivering them.
func (f *pgFixture) pending(ctx context.Context) []notify.Delivery {
	got, err := f.outbox.Claim(ctx, 100, time.Now().UTC(), time.Hour)
	Expect(err).NotTo(HaveOccurred())
	for _, d := range got {
		Expect(f.outbox.MarkSent(ctx, d.Notification.ID, time.Now().UTC())).To(Succeed())
	}
	return got
}

func resetTokenFrom(deliveries []notify.Delivery) string {
	for i := len(deliveries) - 1; i >= 0; i-- {
		d := deliveries[i]
		if d.Notification.Kind != auth.KindPasswordResetRequest {
			continue
		}
		u, err := url.Parse(d.Notification.Payload[auth.PayloadResetURL])
		Expect(err).NotTo(HaveOccurred())
		return u.Query().Get("token")
	}
	Fail("no reset notification in outbox")
	return ""
}

func kinds(deliveries []notify.Delivery) []auth.NotificationKind {
	out := make([]auth.NotificationKind, 0, len(deliveries))
	for _, d := range deliveries {
		out = append(out, d.Notification.Kind)
	}
	return out
}

var _ = Describe("Auth repositories", func() {
	var (
		ctx context.Context
		f   *pgFixture
	)

	BeforeEach(func() {
		ctx = context.Background()
		truncate(ctx)
		f = newPGFixture()
	})

	Describe("account lifecycle", func() {
		It("runs signup, signin, forgot, reset and the old password stops working", func() {
			res, err := f.service.Signup(ctx, auth.SignupInput{
				Email:    "Jane@Example.com",
				Password: "Secret123!",
				Profile:  auth.Profile{FirstName: "Jane"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(res.User.Email).To(Equal("jane@example.com"))
			Expect(kinds(f.pending(ctx))).To(Equal([]auth.NotificationKind{auth.KindWelcome}))

			_, err = f.service.Signin(ctx, "jane@example.com", "Secret123!", auth.SessionMeta{})
			Expect(err).NotTo(HaveOccurred())
			Expect(kinds(f.pending(ctx))).To(Equal([]auth.NotificationKind{auth.KindLogin}))

			Expect(f.service.ForgotPassword(ctx, "JANE@example.com")).To(Succeed())
			token := resetTokenFrom(f.pending(ctx))
			Expect(token).NotTo(BeEmpty())

			Expect(f.service.ResetPassword(ctx, token, "NewSecret456!")).To(Succeed())
			Expect(kinds(f.pending(ctx))).To(Equal([]auth.NotificationKind{auth.KindPasswordResetConfirmed}))

			_, err = f.service.Signin(ctx, "jane@example.com", "Secret123!", auth.SessionMeta{})
			Expect(errors.Is(err, auth.ErrInvalidCredentials)).To(BeTrue())
			_, err = f.service.Signin(ctx, "jane@example.com", "NewSecret456!", auth.SessionMeta{})
			Expect(err).NotTo(HaveOccurred())

			err = f.service.ResetPassword(ctx, token, "Another789!")
			Expect(errors.Is(err, auth.ErrInvalidOrExpiredToken)).To(BeTrue())
		})

		It("authenticates until logout", func() {
			res, err := f.service.Signup(ctx, auth.SignupInput{Email: "a@example.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())

			u, err := f.service.Authenticate(ctx, res.Token)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.ID).To(Equal(res.User.ID))

			Expect(f.service.Logout(ctx, res.Token)).To(Succeed())
			Expect(f.service.Logout(ctx, res.Token)).To(Succeed())
			_, err = f.service.Authenticate(ctx, res.Token)
			Expect(errors.Is(err, auth.ErrSessionInvalid)).To(BeTrue())
		})
	})

	Describe("concurrent signup", func() {
		It("creates exactly one account per email", func() {
			const workers = 8
			var (
				wg        sync.WaitGroup
				mu        sync.Mutex
				successes int
				dupes     int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := f.service.Signup(ctx, auth.SignupInput{Email: "race@example.com", Password: "pw"})
					mu.Lock()
					defer mu.Unlock()
					switch {
					case err == nil:
						successes++
					case errors.Is(err, auth.ErrDuplicateEmail):
						dupes++
					default:
						Fail("unexpected error: " + err.Error())
					}
				}()
			}
			wg.Wait()
			Expect(successes).To(Equal(1))
			Expect(dupes).To(Equal(workers - 1))

			var n int
			Expect(pool.QueryRow(ctx, `SELECT count(*) FROM users WHERE email = 'race@example.com'`).Scan(&n)).To(Succeed())
			Expect(n).To(Equal(1))
		})
	})

	Describe("reset token consumption", func() {
		It("lets only one concurrent consumer win", func() {
			res, err := f.service.Signup(ctx, auth.SignupInput{Email: "b@example.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())
			_, hash, err := auth.GenerateToken()
			Expect(err).NotTo(HaveOccurred())
			tok, err := auth.NewResetToken(res.User.ID, hash, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(f.resets.Create(ctx, tok)).To(Succeed())

			const workers = 6
			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				wins int
				used int
			)
			for range workers {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := f.resets.Consume(ctx, hash, "new-hash", time.Now().UTC())
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						wins++
						return
					}
					Expect(errors.Is(err, auth.ErrTokenAlreadyUsed)).To(BeTrue(), err.Error())
					used++
				}()
			}
			wg.Wait()
			Expect(wins).To(Equal(1))
			Expect(used).To(Equal(workers - 1))

			u, err := f.users.GetByID(ctx, res.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.PasswordHash).To(Equal("new-hash"))
		})

		It("keeps the consumed row and reports expiry distinctly", func() {
			res, err := f.service.Signup(ctx, auth.SignupInput{Email: "c@example.com", Password: "pw"})
			Expect(err).NotTo(HaveOccurred())
			issued := time.Now().UTC().Add(-2 * time.Hour)
			tok, err := auth.NewResetToken(res.User.ID, "expired-hash", issued)
			Expect(err).NotTo(HaveOccurred())
			Expect(f.resets.Create(ctx, tok)).To(Succeed())

			_, err = f.resets.Consume(ctx, "expired-hash", "x", time.Now().UTC())
			Expect(errors.Is(err, auth.ErrTokenExpired)).To(BeTrue())

			_, err = f.resets.Consume(ctx, "missing-hash", "x", time.Now().UTC())
			Expect(errors.Is(err, auth.ErrTokenNotFound)).To(BeTrue())

			u, err := f.users.GetByID(ctx, res.User.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(u.PasswordHash).To(Equal(res.User.PasswordHash))
		})
	})

	Describe("outbox", func() {
		It("never hands the same entry to two claimers", func() {
			for i := range 10 {
				n, err := auth.NewNotification(auth.KindLogin, "d@example.com",
					map[string]string{auth.PayloadLoginTime: strconv.Itoa(i)},
					time.Now().UTC().Add(-time.Minute))
				Expect(err).NotTo(HaveOccurred())
				Expect(f.outbox.Enqueue(ctx, n)).To(Succeed())
			}

			var (
				wg   sync.WaitGroup
				mu   sync.Mutex
				seen = map[string]int{}
			)
			for range 4 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					got, err := f.outbox.Claim(ctx, 5, time.Now().UTC(), time.Hour)
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					defer mu.Unlock()
					for _, d := range got {
						seen[d.Notification.ID.String()]++
					}
				}()
			}
			wg.Wait()

			Expect(seen).To(HaveLen(10))
			for id, count := range seen {
				Expect(count).To(Equal(1), id)
			}
		})

		It("dead-letters and purges", func() {
			n, err := auth.NewNotification(auth.KindWelcome, "e@example.com", nil, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(f.outbox.Enqueue(ctx, n)).To(Succeed())

			Expect(f.outbox.MarkFailed(ctx, n.ID, 5, "bounce", time.Now().UTC(), true)).To(Succeed())
			got, err := f.outbox.Claim(ctx, 10, time.Now().UTC().Add(time.Hour), time.Minute)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(BeEmpty())

			purged, err := f.outbox.PurgeFinished(ctx, time.Now().UTC().Add(-time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeZero())

			purged, err = f.outbox.PurgeFinished(ctx, time.Now().UTC().Add(time.Hour))
			Expect(err).NotTo(HaveOccurred())
			Expect(purged).To(BeEquivalentTo(1))
		})

		It("drops the reset link once delivered or dead-lettered", func() {
			payload := map[string]string{
				auth.PayloadFirstName: "Ada",
				auth.PayloadResetURL:  "https://app.example.com/reset-password?token=live",
			}
			sent, err := auth.NewNotification(auth.KindPasswordResetRequest, "s@example.com", payload, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			dead, err := auth.NewNotification(auth.KindPasswordResetRequest, "d@example.com", payload, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(f.outbox.Enqueue(ctx, sent)).To(Succeed())
			Expect(f.outbox.Enqueue(ctx, dead)).To(Succeed())

			Expect(f.outbox.MarkSent(ctx, sent.ID, time.Now().UTC())).To(Succeed())
			Expect(f.outbox.MarkFailed(ctx, dead.ID, 5, "bounce", time.Now().UTC(), true)).To(Succeed())

			for _, id := range []string{sent.ID.String(), dead.ID.String()} {
				var stored map[string]string
				Expect(pool.QueryRow(ctx, `SELECT payload FROM notification_outbox WHERE id = $1`, id).
					Scan(&stored)).To(Succeed())
				Expect(stored).NotTo(HaveKey(auth.PayloadResetURL))
				Expect(stored).To(HaveKeyWithValue(auth.PayloadFirstName, "Ada"))
			}
		})
	})
})
