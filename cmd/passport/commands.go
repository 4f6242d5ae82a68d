package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/immutable/go-passport/oauthmodel"
	"github.com/immutable/go-passport/passport"
	"github.com/immutable/go-passport/users"
)

// whoami is the printed view of a user.
type whoami struct {
	Subject  string     `yaml:"sub"`
	Email    string     `yaml:"email,omitempty"`
	Nickname string     `yaml:"nickname,omitempty"`
	Imx      *imxView   `yaml:"imx,omitempty"`
	ZkEvm    *zkEvmView `yaml:"zkevm,omitempty"`
}

type imxView struct {
	EtherKey     string `yaml:"ether_key"`
	StarkKey     string `yaml:"stark_key"`
	UserAdminKey string `yaml:"user_admin_key"`
}

type zkEvmView struct {
	EthAddress       string `yaml:"eth_address"`
	UserAdminAddress string `yaml:"user_admin_address"`
}

func printUser(o *rootOptions, user *users.User) error {
	view := whoami{Subject: user.Subject, Email: user.Email, Nickname: user.Nickname}
	if user.HasImxWallet() {
		view.Imx = &imxView{user.Imx.EtherKey, user.Imx.StarkKey, user.Imx.UserAdminKey}
	}
	if user.HasZkEvmWallet() {
		view.ZkEvm = &zkEvmView{user.ZkEvm.EthAddress, user.ZkEvm.UserAdminAddress}
	}

	enc := yaml.NewEncoder(o.stdout)
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return err
	}
	return enc.Close()
}

func newLoginCmd(o *rootOptions) *cobra.Command {
	var (
		opts   passport.LoginOptions
		direct string
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in through the browser and store the session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(true)
			if err != nil {
				return err
			}
			defer s.close()

			displayAppname(o.stderr, appName)
			opts.DirectLoginMethod = oauthmodel.DirectLoginMethod(direct)
			user, err := s.passport.Login(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printUser(o, user)
		},
	}
	cmd.Flags().BoolVar(&opts.UseCachedSession, "cached", false, "only use a stored session")
	cmd.Flags().BoolVar(&opts.UseSilentLogin, "silent", false, "fail instead of showing the login page")
	cmd.Flags().StringVar(&opts.Email, "email", "", "prefill the login page with this email")
	cmd.Flags().StringVar(&direct, "direct", "", "skip the provider picker (google, apple, email)")
	cmd.Flags().BoolVar(&opts.WithoutWallet, "without-wallet", false, "do not create a wallet for new users")
	return cmd
}

func newLogoutCmd(o *rootOptions) *cobra.Command {
	var silent bool
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored session and end the IdP session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(true)
			if err != nil {
				return err
			}
			defer s.close()

			var opts passport.LogoutOptions
			if silent {
				opts.Mode = passport.LogoutModeSilent
			}
			if err := s.passport.Logout(cmd.Context(), opts); err != nil {
				return err
			}
			fmt.Fprintln(o.stdout, "Logged out")
			return nil
		},
	}
	cmd.Flags().BoolVar(&silent, "silent", false, "end the IdP session without opening a browser")
	return cmd
}

func newWhoamiCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Print the logged in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			user, err := s.passport.GetUserInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printUser(o, user)
		},
	}
}

func newTokenCmd(o *rootOptions) *cobra.Command {
	var idToken bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a valid access token, renewing it when needed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := o.open(false)
			if err != nil {
				return err
			}
			defer s.close()

			get := s.passport.GetAccessToken
			if idToken {
				get = s.passport.GetIDToken
			}
			token, err := get(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(o.stdout, token)
			return nil
		},
	}
	cmd.Flags().BoolVar(&idToken, "id", false, "print the ID token instead")
	return cmd
}
