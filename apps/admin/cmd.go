package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/steamspark/spark/core/earning"
	"github.com/steamspark/spark/core/payment"
	"github.com/steamspark/spark/core/user"
)

var (
	readOTPFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	usrSvc     user.Service
	paymentSvc payment.Service
	payoutSvc  earning.PayoutService
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS...]                  - run database migrations (up, down, status, ...)")
	fmt.Println("  setrole -email EMAIL -role ROLE            - change a user's role (parent, teacher, admin)")
	fmt.Println("  verifypayment -reference REFERENCE         - verify a payment with the gateway and confirm its booking")
	fmt.Println("  finalizetransfer -code TRANSFER_CODE       - finalize a payout transfer awaiting OTP")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	setRoleCmd := flag.NewFlagSet("setrole", flag.ContinueOnError)
	setRoleEmail := setRoleCmd.String("email", "", "The user's email.")
	setRoleRole := setRoleCmd.String("role", "", "The new role: parent, teacher or admin.")

	verifyCmd := flag.NewFlagSet("verifypayment", flag.ContinueOnError)
	verifyRef := verifyCmd.String("reference", "", "The payment reference.")

	finalizeCmd := flag.NewFlagSet("finalizetransfer", flag.ContinueOnError)
	finalizeCode := finalizeCmd.String("code", "", "The transfer code. The OTP will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "setrole":
		if err := setRoleCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setRoleEmail == "" || *setRoleRole == "" {
			setRoleCmd.Usage()
			return errHelp
		}
		usr, err := cli.usrSvc.SetRole(ctx, *setRoleEmail, *setRoleRole)
		if err != nil {
			return err
		}
		fmt.Printf("%s is now %s\n", usr.Email, usr.Role)
		return nil

	case "verifypayment":
		if err := verifyCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *verifyRef == "" {
			verifyCmd.Usage()
			return errHelp
		}
		res, err := cli.paymentSvc.Verify(ctx, *verifyRef)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		return nil

	case "finalizetransfer":
		if err := finalizeCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *finalizeCode == "" {
			finalizeCmd.Usage()
			return errHelp
		}
		fmt.Print("Enter OTP:")
		otp, err := readOTPFunc(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return err
		}
		if len(otp) == 0 {
			finalizeCmd.Usage()
			return errHelp
		}
		payout, err := cli.payoutSvc.FinalizeTransfer(ctx, *finalizeCode, string(otp))
		if err != nil {
			return err
		}
		fmt.Printf("payout %s is %s\n", payout.Reference, payout.Status)
		return nil

	default:
		cli.printUsage()
		return errHelp
	}
}
