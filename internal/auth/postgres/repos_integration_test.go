// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 FitDojo Contributors

//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/fitdojo/fitdojo/internal/auth"
	"github.com/fitdojo/fitdojo/internal/auth/postgres"
)

// createUser inserts a user with a unique email and removes it after the test.
func createUser(ctx context.Context) *auth.User {
	GinkgoHelper()
	user := &auth.User{
		Email:        uuid.NewString() + "@example.com",
		PasswordHash: "$argon2id$seed",
	}
	Expect(postgres.NewUserRepository(testPool).Create(ctx, user)).To(Succeed())
	DeferCleanup(func() {
		_, _ = testPool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
	})
	return user
}

var _ = Describe("UserRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.UserRepository
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewUserRepository(testPool)
	})

	It("round-trips a user with a partial profile", func() {
		name, age := "Alice", 31
		user := &auth.User{
			Email:        uuid.NewString() + "@example.com",
			PasswordHash: "$argon2id$x",
			Profile:      auth.Profile{Name: &name, Age: &age},
		}
		Expect(repo.Create(ctx, user)).To(Succeed())
		DeferCleanup(func() {
			_, _ = testPool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
		})

		got, err := repo.GetByEmail(ctx, user.Email)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.ID).To(Equal(user.ID))
		Expect(got.Verified).To(BeFalse())
		Expect(got.Profile.Age).To(HaveValue(Equal(31)))
		Expect(got.Profile.Goal).To(BeNil())
		Expect(got.PasswordChangedAt).To(BeNil())
	})

	It("rejects a duplicate email", func() {
		user := createUser(ctx)
		err := repo.Create(ctx, &auth.User{Email: user.Email, PasswordHash: "h"})
		Expect(errors.Is(err, auth.ErrDuplicateEmail)).To(BeTrue())
	})

	It("reports a missing user", func() {
		_, err := repo.GetByID(ctx, 1<<40)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})
})

var _ = Describe("SessionRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.SessionRepository
		user *auth.User
		now  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewSessionRepository(testPool)
		user = createUser(ctx)
		now = time.Now().UTC().Truncate(time.Microsecond)
	})

	newSession := func(at time.Time) *auth.Session {
		s, err := auth.NewSession(user.ID, auth.NewSessionJTI(), "198.51.100.4", "integration/1.0", at)
		Expect(err).NotTo(HaveOccurred())
		Expect(repo.Create(ctx, s)).To(Succeed())
		return s
	}

	It("maps a jti collision to ErrDuplicateJTI", func() {
		s := newSession(now)
		dup := *s
		dup.ID = 0
		err := repo.Create(ctx, &dup)
		Expect(errors.Is(err, auth.ErrDuplicateJTI)).To(BeTrue())
	})

	It("never moves last_seen_at backwards", func() {
		s := newSession(now)
		Expect(repo.Touch(ctx, s.JTI, now.Add(time.Minute))).To(Succeed())
		Expect(repo.Touch(ctx, s.JTI, now.Add(-time.Hour))).To(Succeed())

		got, err := repo.FindByJTIAndUser(ctx, s.JTI, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.LastSeenAt).To(BeTemporally("==", now.Add(time.Minute)))
	})

	It("does not find another user's session", func() {
		s := newSession(now)
		other := createUser(ctx)
		_, err := repo.FindByJTIAndUser(ctx, s.JTI, other.ID)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
	})

	It("lists newest first and deletes all but the kept session", func() {
		older := newSession(now.Add(-time.Hour))
		newer := newSession(now)

		list, err := repo.ListByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(2))
		Expect(list[0].JTI).To(Equal(newer.JTI))
		Expect(list[1].JTI).To(Equal(older.JTI))

		n, err := repo.DeleteAllExcept(ctx, user.ID, newer.JTI)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		list, err = repo.ListByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(HaveLen(1))
	})

	It("sweeps idle sessions only", func() {
		idle := newSession(now.Add(-40 * 24 * time.Hour))
		fresh := newSession(now)

		_, err := repo.SweepIdle(ctx, now.Add(-30*24*time.Hour))
		Expect(err).NotTo(HaveOccurred())

		_, err = repo.FindByJTIAndUser(ctx, idle.JTI, user.ID)
		Expect(errors.Is(err, auth.ErrNotFound)).To(BeTrue())
		_, err = repo.FindByJTIAndUser(ctx, fresh.JTI, user.ID)
		Expect(err).NotTo(HaveOccurred())
	})
})

var _ = Describe("OneTimeTokenRepository", func() {
	var (
		ctx  context.Context
		repo *postgres.OneTimeTokenRepository
		user *auth.User
		now  time.Time
	)

	BeforeEach(func() {
		ctx = context.Background()
		repo = postgres.NewOneTimeTokenRepository(testPool)
		user = createUser(ctx)
		now = time.Now().UTC().Truncate(time.Second)
	})

	issue := func(purpose auth.Purpose, ttl time.Duration) *auth.OneTimeToken {
		tok := &auth.OneTimeToken{
			UserID:    user.ID,
			JTI:       uuid.NewString(),
			Purpose:   purpose,
			ExpiresAt: now.Add(ttl),
			CreatedAt: now,
		}
		Expect(repo.Issue(ctx, tok)).To(Succeed())
		return tok
	}

	It("verifies the user once", func() {
		tok := issue(auth.PurposeVerify, 30*time.Minute)

		Expect(repo.RedeemVerification(ctx, user.ID, tok.JTI, now.Add(time.Minute))).To(Succeed())
		got, err := postgres.NewUserRepository(testPool).GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.Verified).To(BeTrue())

		err = repo.RedeemVerification(ctx, user.ID, tok.JTI, now.Add(2*time.Minute))
		Expect(errors.Is(err, auth.ErrTokenUnusable)).To(BeTrue())
	})

	It("supersedes earlier tokens of the same purpose", func() {
		first := issue(auth.PurposeReset, 30*time.Minute)
		second := issue(auth.PurposeReset, 30*time.Minute)

		err := repo.RedeemPasswordReset(ctx, auth.PasswordReset{
			UserID: user.ID, JTI: first.JTI, PasswordHash: "$argon2id$first", At: now.Add(time.Minute),
		})
		Expect(errors.Is(err, auth.ErrTokenUnusable)).To(BeTrue())

		Expect(repo.RedeemPasswordReset(ctx, auth.PasswordReset{
			UserID: user.ID, JTI: second.JTI, PasswordHash: "$argon2id$second", At: now.Add(time.Minute),
		})).To(Succeed())
	})

	It("leaves one unused token when issues race", func() {
		const issuers = 8
		var wg sync.WaitGroup
		errs := make(chan error, issuers)
		for range issuers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- repo.Issue(ctx, &auth.OneTimeToken{
					UserID:    user.ID,
					JTI:       uuid.NewString(),
					Purpose:   auth.PurposeVerify,
					ExpiresAt: now.Add(30 * time.Minute),
					CreatedAt: now,
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}

		var unused int
		Expect(testPool.QueryRow(ctx, `
			SELECT count(*) FROM one_time_tokens
			WHERE user_id = $1 AND purpose = 'verify' AND used_at IS NULL
		`, user.ID).Scan(&unused)).To(Succeed())
		Expect(unused).To(Equal(1))
	})

	It("refuses an expired token and leaves the password alone", func() {
		tok := issue(auth.PurposeReset, time.Minute)

		err := repo.RedeemPasswordReset(ctx, auth.PasswordReset{
			UserID: user.ID, JTI: tok.JTI, PasswordHash: "$argon2id$late", At: now.Add(2 * time.Minute),
		})
		Expect(errors.Is(err, auth.ErrTokenUnusable)).To(BeTrue())

		got, err := postgres.NewUserRepository(testPool).GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("$argon2id$seed"))
	})

	It("revokes every session with the reset", func() {
		sessions := postgres.NewSessionRepository(testPool)
		for range 3 {
			s, err := auth.NewSession(user.ID, auth.NewSessionJTI(), "", "", now)
			Expect(err).NotTo(HaveOccurred())
			Expect(sessions.Create(ctx, s)).To(Succeed())
		}
		tok := issue(auth.PurposeReset, 30*time.Minute)

		Expect(repo.RedeemPasswordReset(ctx, auth.PasswordReset{
			UserID: user.ID, JTI: tok.JTI, PasswordHash: "$argon2id$new", At: now, RevokeSessions: true,
		})).To(Succeed())

		list, err := sessions.ListByUser(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(list).To(BeEmpty())

		got, err := postgres.NewUserRepository(testPool).GetByID(ctx, user.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.PasswordHash).To(Equal("$argon2id$new"))
		Expect(got.PasswordChangedAt).NotTo(BeNil())
	})

	It("lets exactly one concurrent redeemer win", func() {
		tok := issue(auth.PurposeVerify, 30*time.Minute)

		var (
			wg        sync.WaitGroup
			successes atomic.Int32
			unusable  atomic.Int32
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				err := repo.RedeemVerification(ctx, user.ID, tok.JTI, now.Add(time.Second))
				switch {
				case err == nil:
					successes.Add(1)
				case errors.Is(err, auth.ErrTokenUnusable):
					unusable.Add(1)
				}
			}()
		}
		wg.Wait()

		Expect(successes.Load()).To(Equal(int32(1)))
		Expect(unusable.Load()).To(Equal(int32(7)))
	})

	It("deletes expired and used tokens", func() {
		issue(auth.PurposeVerify, time.Minute)

		n, err := repo.DeleteExpired(ctx, now.Add(time.Hour))
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeNumerically(">=", 1))

		var remaining int
		Expect(testPool.QueryRow(ctx,
			`SELECT count(*) FROM one_time_tokens WHERE user_id = $1`, user.ID).Scan(&remaining)).To(Succeed())
		Expect(remaining).To(BeZero())
	})
})
